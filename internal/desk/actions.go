package desk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rickgao/gpttools-desk/internal/model"
	"github.com/rickgao/gpttools-desk/internal/service"
)

// fail toasts err and returns it wrapped with the action name.
func (d *Desk) fail(action string, err error) error {
	msg := err.Error()
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		msg = svcErr.Message
	}
	d.pub.Toast(msg, "error")
	d.logger.Warn("action failed", "action", action, "error", err)
	return fmt.Errorf("%s: %w", action, err)
}

// UpdateAccountSort changes an account's sort key and refreshes.
func (d *Desk) UpdateAccountSort(ctx context.Context, accountID string, sort int64) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}
	if err := d.svc.UpdateAccountSort(ctx, accountID, sort); err != nil {
		return d.fail("update account sort", err)
	}
	d.refreshQuietly(ctx)
	return nil
}

// DeleteAccount removes an account. When the service does not know
// account deletion the local fallback is used instead.
func (d *Desk) DeleteAccount(ctx context.Context, accountID string) error {
	if accountID == "" {
		return nil
	}
	if err := d.ensure(ctx); err != nil {
		return err
	}

	err := d.svc.DeleteAccount(ctx, accountID)
	if service.IsUnknownMethod(err) {
		d.logger.Info("account delete unsupported by service, using local fallback", "account", accountID)
		if ferr := d.svc.DeleteLocalAccount(ctx, accountID); ferr != nil {
			return d.fail("delete account", ferr)
		}
		d.refreshQuietly(ctx)
		return nil
	}
	if err != nil {
		return d.fail("delete account", err)
	}
	d.refreshQuietly(ctx)
	d.pub.Toast("account deleted", "info")
	return nil
}

// RefreshUsageForAccount re-reads one account's usage upstream and returns
// the new snapshot (nil when the service has none).
func (d *Desk) RefreshUsageForAccount(ctx context.Context, accountID string) (*model.UsageSnapshot, error) {
	if accountID == "" {
		return nil, nil
	}
	if err := d.ensure(ctx); err != nil {
		return nil, err
	}
	if err := d.svc.RefreshUsage(ctx, accountID); err != nil {
		return nil, d.fail("refresh usage", err)
	}
	snap, err := d.svc.ReadUsage(ctx, accountID)
	if err != nil {
		return nil, d.fail("read usage", err)
	}
	if snap != nil {
		d.store.PutUsage(*snap)
		d.pub.Publish(EventSnapshot, d.store.Snapshot())
	}
	return snap, nil
}

// CreateAPIKey creates a key and returns it with its one-time secret.
func (d *Desk) CreateAPIKey(ctx context.Context, req service.CreateKeyRequest) (*model.CreatedKey, error) {
	if err := d.ensure(ctx); err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.ModelSlug == "" {
		req.ReasoningEffort = ""
	}
	key, err := d.svc.CreateAPIKey(ctx, req)
	if err != nil {
		return nil, d.fail("create api key", err)
	}
	d.reloadKeys(ctx, true)
	d.pub.Toast("platform key created", "info")
	return key, nil
}

// DeleteAPIKey removes a key.
func (d *Desk) DeleteAPIKey(ctx context.Context, keyID string) error {
	if keyID == "" {
		return nil
	}
	if err := d.ensure(ctx); err != nil {
		return err
	}
	if err := d.svc.DeleteAPIKey(ctx, keyID); err != nil {
		return d.fail("delete api key", err)
	}
	d.reloadKeys(ctx, false)
	d.pub.Toast("platform key deleted", "info")
	return nil
}

// ToggleAPIKeyStatus enables a disabled key and disables any other. It
// returns whether the key is now enabled.
func (d *Desk) ToggleAPIKeyStatus(ctx context.Context, keyID string) (bool, error) {
	if keyID == "" {
		return false, nil
	}
	if err := d.ensure(ctx); err != nil {
		return false, err
	}
	key, _ := d.store.APIKey(keyID)
	enable := key.Disabled()
	if err := d.svc.SetAPIKeyEnabled(ctx, keyID, enable); err != nil {
		return false, d.fail("toggle api key", err)
	}
	d.reloadKeys(ctx, false)
	if enable {
		d.pub.Toast("platform key enabled", "info")
	} else {
		d.pub.Toast("platform key disabled", "info")
	}
	return enable, nil
}

// UpdateAPIKeyModel pins a key to a model; the effort is dropped without one.
func (d *Desk) UpdateAPIKeyModel(ctx context.Context, keyID, modelSlug, effort string) error {
	if keyID == "" {
		return nil
	}
	if err := d.ensure(ctx); err != nil {
		return err
	}
	if err := d.svc.UpdateAPIKeyModel(ctx, keyID, modelSlug, effort); err != nil {
		return d.fail("update api key model", err)
	}
	d.reloadKeys(ctx, false)
	return nil
}

// ClearRequestLogs deletes every request log and reloads the list.
func (d *Desk) ClearRequestLogs(ctx context.Context) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}
	if err := d.svc.ClearRequestLogs(ctx); err != nil {
		return d.fail("clear request logs", err)
	}
	if _, err := d.SearchRequestLogs(ctx, d.store.RequestLogQuery()); err != nil {
		return err
	}
	d.pub.Toast("request logs cleared", "info")
	return nil
}

// SearchRequestLogs sets the request log filter and reloads the list.
func (d *Desk) SearchRequestLogs(ctx context.Context, query string) ([]model.RequestLog, error) {
	if err := d.ensure(ctx); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	logs, err := d.svc.ListRequestLogs(ctx, query, d.cfg.RequestLogLimit)
	if err != nil {
		return nil, d.fail("list request logs", err)
	}
	d.store.SetRequestLogs(query, logs)
	d.pub.Publish(EventSnapshot, d.store.Snapshot())
	return logs, nil
}

// reloadKeys refreshes the key list (and optionally the model list) after a
// key mutation.
func (d *Desk) reloadKeys(ctx context.Context, withModels bool) {
	if withModels {
		if models, err := d.svc.ListModels(ctx); err == nil {
			d.store.SetModels(models)
		} else {
			d.logger.Warn("reload models failed", "error", err)
		}
	}
	if keys, err := d.svc.ListAPIKeys(ctx); err == nil {
		d.store.SetAPIKeys(keys)
	} else {
		d.logger.Warn("reload api keys failed", "error", err)
	}
	d.pub.Publish(EventSnapshot, d.store.Snapshot())
}

func (d *Desk) refreshQuietly(ctx context.Context) {
	if _, err := d.RefreshAll(ctx); err != nil {
		d.logger.Warn("refresh after action failed", "error", err)
	}
}
