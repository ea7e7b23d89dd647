package outlook

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/oauth2"
)

// DeviceLogin runs the device code grant. The verification instructions are
// written to w; the call blocks until the user completes sign-in or ctx ends.
// The returned token carries the refresh token to store as OUTLOOK_REFRESH_TOKEN.
func DeviceLogin(ctx context.Context, conf *oauth2.Config, w io.Writer) (*oauth2.Token, error) {
	da, err := conf.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("start device authorization: %w", err)
	}

	fmt.Fprintf(w, "To sign in, open %s and enter the code %s\n", da.VerificationURI, da.UserCode)

	tok, err := conf.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, fmt.Errorf("wait for device token: %w", err)
	}
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token issued; check that offline_access is granted")
	}
	return tok, nil
}
