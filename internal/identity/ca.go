package identity

import (
	"context"
	"log/slog"
)

// FetchCA returns the PEM encoded RadSec CA certificate of the service.
func (c *Client) FetchCA(ctx context.Context, session Session) (string, error) {
	var cert string
	err := c.retry.Do(ctx, "ca.get", func(ctx context.Context) error {
		var resp caGetResponse
		if err := c.postJSON(ctx, session, caGetPath, nil, struct{}{}, &resp); err != nil {
			return err
		}
		cert = resp.Data.Cert
		return nil
	})
	if err != nil {
		return "", newAPIError(ErrFetch, "fetch CA certificate", err)
	}

	if cert == "" {
		return "", &APIError{Err: ErrFetch, Op: "fetch CA certificate", Message: "response carried no certificate"}
	}

	slog.Info("Fetched CA certificate from identity service")
	return cert, nil
}
