package identity

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/EternisAI/radsec-provisioner/internal/retry"
)

// StripCSR removes a single trailing line break. The signing endpoint rejects
// a PEM body that ends in a newline; any further newlines are left alone.
func StripCSR(csr string) string {
	if strings.HasSuffix(csr, "\r\n") {
		return strings.TrimSuffix(csr, "\r\n")
	}
	return strings.TrimSuffix(csr, "\n")
}

// Enroll submits csr for signing and returns the PEM encoded certificate.
// A 200 answer without a certificate is a failure and is not retried.
func (c *Client) Enroll(ctx context.Context, session Session, orgID, csr string) (string, error) {
	req := csrSignRequest{
		CSR:   StripCSR(csr),
		OrgID: orgID,
	}
	header := http.Header{}
	header.Set(orgIDHeader, orgID)

	var cert string
	err := c.retry.Do(ctx, "csr.sign", func(ctx context.Context) error {
		var resp csrSignResponse
		if err := c.postJSON(ctx, session, csrSignPath, header, req, &resp); err != nil {
			return err
		}

		if resp.Data.X509Certificate == "" {
			msg := unknownError
			if resp.Error != nil && resp.Error.Message != "" {
				msg = resp.Error.Message
			}
			return retry.Permanent(&APIError{
				Err:        ErrEnrollment,
				Op:         "sign CSR",
				StatusCode: http.StatusOK,
				Message:    msg,
			})
		}

		cert = resp.Data.X509Certificate
		return nil
	})
	if err != nil {
		return "", newAPIError(ErrEnrollment, "sign CSR", err)
	}

	slog.Info("CSR signed by identity service")
	return cert, nil
}
