package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var errNotListed = errors.New("device not present in NAD list")

// RegisterDevice submits the device to the identity service. A 200 answer
// does not prove the record exists; use ConfirmRegistered for that.
func (c *Client) RegisterDevice(ctx context.Context, session Session, orgID string, reg DeviceRegistration) error {
	req := nadAddRequest{
		OrgID:        orgID,
		Vendor:       c.vendor,
		SerialNumber: reg.SerialNumber,
		MAC:          reg.MAC,
		IPAddress:    reg.IPAddress,
		Name:         reg.Name,
	}

	err := c.retry.Do(ctx, "nad.add", func(ctx context.Context) error {
		return c.postJSON(ctx, session, nadAddPath, nil, req, nil)
	})
	if err != nil {
		return newAPIError(ErrRegistration, "add device "+reg.Name, err)
	}

	slog.Info("Submitted device registration", "hostname", reg.Name, "serial_number", reg.SerialNumber)
	return nil
}

// ListDevices returns the NAD records of the organization.
func (c *Client) ListDevices(ctx context.Context, session Session, orgID string) ([]NAD, error) {
	return c.listDevices(ctx, session, orgID, nil)
}

// listDevices retries the listing until it succeeds and, when accept is set,
// until accept takes the records.
func (c *Client) listDevices(ctx context.Context, session Session, orgID string, accept func([]NAD) error) ([]NAD, error) {
	var nads []NAD
	err := c.retry.Do(ctx, "nad.list", func(ctx context.Context) error {
		var resp nadListResponse
		if err := c.postJSON(ctx, session, nadListPath, nil, nadListRequest{OrgID: orgID}, &resp); err != nil {
			return err
		}
		nads = resp.Data.NADs
		if accept != nil {
			return accept(nads)
		}
		return nil
	})
	if err != nil && !errors.Is(err, errNotListed) {
		return nil, newAPIError(ErrRegistration, "list devices", err)
	}
	return nads, err
}

// IsRegistered reports whether a record named hostname is present.
func IsRegistered(records []NAD, hostname string) bool {
	for _, r := range records {
		if r.Name == hostname {
			return true
		}
	}
	return false
}

// ConfirmRegistered lists the organization's devices until hostname shows up.
// A device still missing once the retry budget is spent yields
// ErrDeviceNotRegistered; a listing that keeps failing yields ErrRegistration.
func (c *Client) ConfirmRegistered(ctx context.Context, session Session, orgID, hostname string) error {
	_, err := c.listDevices(ctx, session, orgID, func(nads []NAD) error {
		if !IsRegistered(nads, hostname) {
			slog.Debug("Device not yet listed", "hostname", hostname, "records", len(nads))
			return errNotListed
		}
		return nil
	})
	if errors.Is(err, errNotListed) {
		return &APIError{
			Err:     ErrDeviceNotRegistered,
			Op:      "confirm device " + hostname,
			Message: fmt.Sprintf("no NAD record named %q", hostname),
		}
	}
	if err != nil {
		return err
	}

	slog.Info("Device registration confirmed", "hostname", hostname)
	return nil
}

// EnsureRegistered submits the device and then confirms it is listed.
func (c *Client) EnsureRegistered(ctx context.Context, session Session, orgID string, reg DeviceRegistration) error {
	if err := c.RegisterDevice(ctx, session, orgID, reg); err != nil {
		return err
	}
	return c.ConfirmRegistered(ctx, session, orgID, reg.Name)
}
