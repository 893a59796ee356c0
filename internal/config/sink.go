// Package config loads and validates sink configuration.
package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
	"github.com/jittakal/kafs3sink/internal/kcql"
	"github.com/jittakal/kafs3sink/internal/staging"
	"github.com/jittakal/kafs3sink/internal/storage"
)

// Property keys accepted by the sink.
const (
	KeyKCQL          = "connect.s3.kcql"
	KeyAccessKey     = "connect.s3.aws.access.key"
	KeySecretKey     = "connect.s3.aws.secret.key"
	KeyAuthMode      = "connect.s3.aws.auth.mode"
	KeyRegion        = "connect.s3.aws.region"
	KeyEndpoint      = "connect.s3.custom.endpoint"
	KeyVHostBucket   = "connect.s3.vhost.bucket"
	KeyWriteMode     = "connect.s3.write.mode"
	KeyTmpDirectory  = "connect.s3.local.tmp.directory"
	KeyErrorPolicy   = "connect.s3.error.policy"
	KeyRetryInterval = "connect.s3.error.retry.interval"
	KeyProfiles      = "connect.s3.config.profiles"
)

// deprecatedAliases maps legacy aws.* keys to their current equivalents.
// Values supplied under an alias are mirrored with a warning.
var deprecatedAliases = map[string]string{
	"aws.access.key":      KeyAccessKey,
	"aws.secret.key":      KeySecretKey,
	"aws.auth.mode":       KeyAuthMode,
	"aws.region":          KeyRegion,
	"aws.custom.endpoint": KeyEndpoint,
	"aws.vhost.bucket":    KeyVHostBucket,
}

// ErrorPolicy selects how put failures surface to the runtime.
type ErrorPolicy string

const (
	PolicyThrow ErrorPolicy = "THROW"
	PolicyNoop  ErrorPolicy = "NOOP"
	PolicyRetry ErrorPolicy = "RETRY"
)

// SinkConfig is the validated sink configuration built from connector
// properties.
type SinkConfig struct {
	Statements    []kcql.Statement
	S3            storage.S3Config
	WriteMode     staging.Mode
	TmpDirectory  string
	ErrorPolicy   ErrorPolicy
	RetryInterval time.Duration
}

// ParseSink parses connector properties into a sink configuration.
// Profile YAML files named by connect.s3.config.profiles are merged
// first; native properties win on conflict. Deprecated aws.* aliases are
// honored with a warning.
func ParseSink(props map[string]string, logger *slog.Logger) (*SinkConfig, error) {
	merged, err := mergeProfiles(props, logger)
	if err != nil {
		return nil, err
	}
	props = applyAliases(merged, logger)

	rawKCQL := props[KeyKCQL]
	if rawKCQL == "" {
		return nil, fmt.Errorf("%w: %s is required", sinkerrors.ErrConfig, KeyKCQL)
	}
	statements, err := kcql.ParseAll(rawKCQL)
	if err != nil {
		return nil, err
	}
	for i := range statements {
		if statements[i].Bucket != statements[0].Bucket {
			return nil, fmt.Errorf("%w: all KCQL statements must target the same bucket, got %q and %q",
				sinkerrors.ErrConfig, statements[0].Bucket, statements[i].Bucket)
		}
	}

	authMode := storage.AuthMode(props[KeyAuthMode])
	switch authMode {
	case "":
		authMode = storage.AuthDefault
	case storage.AuthCredentials, storage.AuthDefault:
	default:
		return nil, fmt.Errorf("%w: %s must be Credentials or Default, got %q",
			sinkerrors.ErrConfig, KeyAuthMode, props[KeyAuthMode])
	}
	if authMode == storage.AuthCredentials {
		if props[KeyAccessKey] == "" || props[KeySecretKey] == "" {
			return nil, fmt.Errorf("%w: auth mode Credentials requires %s and %s",
				sinkerrors.ErrConfig, KeyAccessKey, KeySecretKey)
		}
	}

	writeMode, err := staging.ParseMode(props[KeyWriteMode])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sinkerrors.ErrConfig, err)
	}

	policy := ErrorPolicy(strings.ToUpper(props[KeyErrorPolicy]))
	switch policy {
	case "":
		policy = PolicyThrow
	case PolicyThrow, PolicyNoop, PolicyRetry:
	default:
		return nil, fmt.Errorf("%w: %s must be THROW, NOOP or RETRY, got %q",
			sinkerrors.ErrConfig, KeyErrorPolicy, props[KeyErrorPolicy])
	}

	retryInterval := 10 * time.Second
	if raw := props[KeyRetryInterval]; raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("%w: %s must be a non-negative millisecond count, got %q",
				sinkerrors.ErrConfig, KeyRetryInterval, raw)
		}
		retryInterval = time.Duration(ms) * time.Millisecond
	}

	vhost := false
	if raw := props[KeyVHostBucket]; raw != "" {
		vhost, err = strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be a boolean, got %q",
				sinkerrors.ErrConfig, KeyVHostBucket, raw)
		}
	}

	return &SinkConfig{
		Statements: statements,
		S3: storage.S3Config{
			Bucket:       statements[0].Bucket,
			Region:       props[KeyRegion],
			Endpoint:     props[KeyEndpoint],
			AuthMode:     authMode,
			AccessKey:    props[KeyAccessKey],
			SecretKey:    props[KeySecretKey],
			UsePathStyle: !vhost,
		},
		WriteMode:     writeMode,
		TmpDirectory:  props[KeyTmpDirectory],
		ErrorPolicy:   policy,
		RetryInterval: retryInterval,
	}, nil
}

// StatementFor returns the statement bound to the topic, or nil.
func (c *SinkConfig) StatementFor(topic string) *kcql.Statement {
	for i := range c.Statements {
		if c.Statements[i].Topic == topic {
			return &c.Statements[i]
		}
	}
	return nil
}

// mergeProfiles loads the comma-separated YAML profile files and merges
// them under the native properties. Native properties win on conflict.
func mergeProfiles(props map[string]string, logger *slog.Logger) (map[string]string, error) {
	profiles := props[KeyProfiles]
	if profiles == "" {
		return props, nil
	}

	merged := make(map[string]string)
	for _, path := range strings.Split(profiles, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}

		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: failed to read profile %s: %v",
				sinkerrors.ErrConfig, path, err)
		}
		for _, key := range v.AllKeys() {
			merged[key] = v.GetString(key)
		}
		logger.Info("merged config profile", "path", path)
	}

	for k, val := range props {
		merged[k] = val
	}
	return merged, nil
}

// applyAliases mirrors deprecated aws.* keys onto their replacements.
func applyAliases(props map[string]string, logger *slog.Logger) map[string]string {
	out := make(map[string]string, len(props))
	for k, v := range props {
		out[k] = v
	}
	for alias, key := range deprecatedAliases {
		v, ok := out[alias]
		if !ok || v == "" {
			continue
		}
		if _, set := out[key]; !set {
			out[key] = v
		}
		logger.Warn("deprecated property used", "deprecated", alias, "replacement", key)
	}
	return out
}
