package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks required values and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Auth.Secret) == "" {
		errs = append(errs, errors.New("auth.secret is required"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("auth.bcrypt_cost %d out of range", c.Auth.BcryptCost))
	}

	switch c.Storage.Backend {
	case "disk":
		if c.Storage.Dir == "" {
			errs = append(errs, errors.New("storage.dir is required for disk backend"))
		}
	case "s3", "gcs":
		if c.Storage.Bucket == "" {
			errs = append(errs, fmt.Errorf("storage.bucket is required for %s backend", c.Storage.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}

	if c.Queue.Topic == "" || c.Queue.DLQTopic == "" {
		errs = append(errs, errors.New("queue.topic and queue.dlq_topic are required"))
	}
	if c.Queue.Topic == c.Queue.DLQTopic {
		errs = append(errs, errors.New("queue.dlq_topic must differ from queue.topic"))
	}
	if c.Queue.FusionTopic != "" && (c.Queue.FusionTopic == c.Queue.Topic || c.Queue.FusionTopic == c.Queue.DLQTopic) {
		errs = append(errs, errors.New("queue.fusion_topic must differ from queue.topic and queue.dlq_topic"))
	}
	if c.Queue.MaxRetries < 0 {
		errs = append(errs, errors.New("queue.max_retries must not be negative"))
	}
	if !c.Queue.Embedded && c.Queue.URL == "" {
		errs = append(errs, errors.New("queue.url is required unless queue.embedded is set"))
	}

	if c.Reconcile.Interval < 0 || c.Reconcile.StaleAfter < 0 {
		errs = append(errs, errors.New("reconcile durations must not be negative"))
	}
	if c.Reconcile.Interval > 0 && c.Reconcile.BatchSize <= 0 {
		errs = append(errs, errors.New("reconcile.batch_size must be positive"))
	}
	if c.Reconcile.Interval > 0 && c.Reconcile.MaxRepublish <= 0 {
		errs = append(errs, errors.New("reconcile.max_republish must be positive"))
	}

	if _, err := c.Server.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must be positive"))
	}

	return errors.Join(errs...)
}
