/*
Package authsdk is the gateway's client for the backend token endpoints.

The backend issues a token pair on login and on refresh:

	{"access_token": "...", "refresh_token": "...", "expires_in": 900, "token_type": "bearer"}

SDKClient wraps the three calls the gateway needs:

	client := authsdk.NewSDKClient("https://api.example.com")

	pair, err := client.Login(ctx, json.RawMessage(`{"email":"a@example.com","password":"..."}`))
	pair, err = client.Refresh(ctx, refreshToken)
	err = client.Logout(ctx, refreshToken) // best effort

# Errors

A non-2xx answer is returned as a *Failure holding the backend's status,
content type and raw body so HTTP handlers can pass it through unchanged:

	if f, ok := authsdk.AsFailure(err); ok {
		f.WriteTo(w)
	}

A 2xx answer that is not a complete pair is ErrInvalidTokenPair; a pair is
either used whole or not at all. Refresh with an empty token is
ErrMissingRefreshToken. None of the calls retry.

TokenPair satisfies cookiex.TokenPair, so a fresh pair can be written to the
browser with Codec.WriteTokens.
*/
package authsdk
