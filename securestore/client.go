package securestore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantumauth-io/tpm-encrypt/errs"
	"github.com/quantumauth-io/tpm-encrypt/log"
)

// Client drives a Capability with one session per operation.
type Client struct {
	capability Capability
	state      *ProvisioningState
	logger     *zap.SugaredLogger
}

func NewClient(capability Capability, state *ProvisioningState, logger *zap.SugaredLogger) *Client {
	return &Client{capability: capability, state: state, logger: log.Or(logger)}
}

// Handle is an open session. Close it on every path; repeated Close calls are no-ops.
type Handle struct {
	id      string
	session Session
	logger  *zap.SugaredLogger

	once     sync.Once
	closeErr error
	closed   bool
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) Close() error {
	h.once.Do(func() {
		h.closed = true
		if err := h.session.Close(); err != nil {
			h.logger.Warnw("closing secure store session", "session", h.id, "error", err)
			h.closeErr = fmt.Errorf("%w: close session: %v", errs.ErrConnectionFailed, err)
			return
		}
		h.logger.Debugw("secure store session closed", "session", h.id)
	})
	return h.closeErr
}

func (h *Handle) live() (Session, error) {
	if h == nil || h.closed {
		return nil, fmt.Errorf("%w: session is closed", errs.ErrConnectionFailed)
	}
	return h.session, nil
}

func (c *Client) Connect(ctx context.Context) (*Handle, error) {
	s, err := c.capability.Open(ctx)
	if err != nil {
		c.logger.Errorw("could not open secure store session", "error", err)
		return nil, fmt.Errorf("%w: %v", errs.ErrConnectionFailed, err)
	}
	h := &Handle{id: uuid.NewString(), session: s, logger: c.logger}
	c.logger.Debugw("secure store session opened", "session", h.id)
	return h, nil
}

// EnsureProvisioned provisions the store unless the marker says it already was.
func (c *Client) EnsureProvisioned(ctx context.Context, h *Handle) error {
	s, err := h.live()
	if err != nil {
		return err
	}

	done, err := c.state.Provisioned()
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrProvisioningFailed, err)
	}
	if done {
		return nil
	}

	c.logger.Infow("provisioning secure store", "session", h.id, "marker", c.state.Path())
	if err := s.Provision(ctx); err != nil {
		c.logger.Errorw("secure store provisioning failed", "session", h.id, "error", err)
		c.logger.Warn("check that the current user can read and write the TPM device (tss group or root)")
		c.logger.Warn("if this store was provisioned by an earlier run whose marker was lost, wipe all data and retry")
		c.logger.Warn("if the owner hierarchy has a password, clear it with tpm2_changeauth -c owner")
		return fmt.Errorf("%w: %v", errs.ErrProvisioningFailed, err)
	}

	if err := c.state.MarkProvisioned(); err != nil {
		c.logger.Errorw("provisioned but unable to save status", "marker", c.state.Path(), "error", err)
		return fmt.Errorf("%w: provisioned but unable to save status: %v", errs.ErrProvisioningFailed, err)
	}
	c.logger.Infow("secure store provisioned", "session", h.id)
	return nil
}

func (c *Client) SetAuthCallback(h *Handle, cb AuthCallback) error {
	s, err := h.live()
	if err != nil {
		return err
	}
	if cb == nil {
		return fmt.Errorf("%w: nil auth callback", errs.ErrBadRequest)
	}
	if err := s.SetAuthCallback(cb); err != nil {
		return fmt.Errorf("%w: set auth callback: %v", errs.ErrConnectionFailed, err)
	}
	return nil
}

func (c *Client) Seal(ctx context.Context, h *Handle, path string, policy Policy, auth string, data []byte) error {
	s, err := h.live()
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("%w: empty object path", errs.ErrBadRequest)
	}
	if err := s.Seal(ctx, path, policy, auth, data); err != nil {
		c.logger.Errorw("seal failed", "session", h.id, "path", path, "error", err)
		return fmt.Errorf("%w: %s: %w", errs.ErrSealFailed, path, err)
	}
	c.logger.Debugw("sealed object", "session", h.id, "path", path, "policy", policy)
	return nil
}

func (c *Client) Unseal(ctx context.Context, h *Handle, path string) ([]byte, error) {
	s, err := h.live()
	if err != nil {
		return nil, err
	}
	data, err := s.Unseal(ctx, path)
	if err != nil {
		c.logger.Errorw("unseal failed", "session", h.id, "path", path, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", errs.ErrUnsealFailed, path, err)
	}
	return data, nil
}

func (c *Client) Delete(ctx context.Context, h *Handle, path string) error {
	s, err := h.live()
	if err != nil {
		return err
	}
	if err := s.Delete(ctx, path); err != nil {
		return fmt.Errorf("%w: %s: %w", errs.ErrDeleteFailed, path, err)
	}
	c.logger.Debugw("deleted object", "session", h.id, "path", path)
	return nil
}

// WipeAll deletes every application object and the storage root, then the provisioning marker.
// A marker that cannot be removed is logged, not returned.
func (c *Client) WipeAll(ctx context.Context) error {
	h, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	defer h.Close()

	if err := c.SetAuthCallback(h, DefaultAuthCallback); err != nil {
		return err
	}
	if err := c.Delete(ctx, h, "/"); err != nil {
		c.logger.Errorw("wiping secure store failed", "error", err)
		return err
	}

	if err := c.state.Clear(); err != nil {
		c.logger.Errorw("error deleting provisioning marker", "marker", c.state.Path(), "error", err)
	} else {
		c.logger.Infow("provisioning marker deleted", "marker", c.state.Path())
	}
	c.logger.Info("secure store wiped")
	return nil
}
