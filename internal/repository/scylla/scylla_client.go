package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/trollofun/uitdeitp/internal/config"
	"github.com/trollofun/uitdeitp/internal/util"
)

// PreparedStatements holds the CQL text used by the repositories. Each call
// builds a fresh gocql.Query from the text: a *gocql.Query is not safe for
// concurrent use, and sharing bound instances across goroutines would let
// one request execute with another's values. Server-side preparation is
// cached per statement text, so per-call construction stays cheap.
type PreparedStatements struct {
	CreateVerification string
	GetVerifications   string
	MarkVerified       string
	IncrementAttempts  string
	GetAttempts        string

	CreateReminder        string
	CreateReminderByDate  string
	CreateReminderByPhone string
	GetReminder           string
	UpdateReminder        string
	AdvanceReminder       string
	SoftDeleteReminder    string
	OptOutReminder        string
	GetRemindersByDate    string
	GetRemindersByPhone   string

	GetStationBySlug string
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 "/root/certs/ca.pem",
			CertPath:               "/root/certs/server.pem",
			KeyPath:                "/root/certs/server.key",
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	s.Prepared = defaultStatements()
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created successfully")
	return nil
}

func defaultStatements() *PreparedStatements {
	return &PreparedStatements{
		CreateVerification: `
		INSERT INTO verification_codes (
			phone_number, time_bucket, code_id, code_hash, code_salt,
			pepper_version, algorithm, source, station_id, verified,
			verified_at, expires_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,

		// Clustering order is code_id DESC, so the newest codes come first
		GetVerifications: `
		SELECT phone_number, time_bucket, code_id, code_hash, code_salt,
			pepper_version, algorithm, source, station_id, verified,
			verified_at, expires_at, created_at
		FROM verification_codes WHERE phone_number = ? LIMIT ?`,

		MarkVerified: `
		UPDATE verification_codes SET verified = true, verified_at = ?
		WHERE phone_number = ? AND code_id = ?`,

		// Counter table keeps the attempts increment an atomic add
		IncrementAttempts: `
		UPDATE verification_attempts SET attempts = attempts + 1
		WHERE phone_number = ? AND code_id = ?`,

		GetAttempts: `
		SELECT attempts FROM verification_attempts
		WHERE phone_number = ? AND code_id = ?`,

		CreateReminder: `
		INSERT INTO reminders (
			id, phone_encrypted, phone_dek, phone_key_id, phone_hash, email,
			plate_number, document_type, expiry_date, intervals, channel_sms,
			channel_email, next_notification_date, station_id, opt_out,
			deleted_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,

		CreateReminderByDate: `
		INSERT INTO reminders_by_date (next_notification_date, reminder_id)
		VALUES (?, ?)`,

		CreateReminderByPhone: `
		INSERT INTO reminders_by_phone (phone_hash, reminder_id)
		VALUES (?, ?)`,

		GetReminder: `
		SELECT id, phone_encrypted, phone_dek, phone_key_id, phone_hash, email,
			plate_number, document_type, expiry_date, intervals, channel_sms,
			channel_email, next_notification_date, station_id, opt_out,
			deleted_at, created_at, updated_at
		FROM reminders WHERE id = ?`,

		UpdateReminder: `
		UPDATE reminders SET expiry_date = ?, intervals = ?, channel_sms = ?,
			channel_email = ?, next_notification_date = ?, updated_at = ?
		WHERE id = ?`,

		AdvanceReminder: `
		UPDATE reminders SET next_notification_date = ?, updated_at = ?
		WHERE id = ?`,

		SoftDeleteReminder: `
		UPDATE reminders SET deleted_at = ?, updated_at = ? WHERE id = ?`,

		OptOutReminder: `
		UPDATE reminders SET opt_out = true, updated_at = ? WHERE id = ?`,

		GetRemindersByDate: `
		SELECT reminder_id FROM reminders_by_date
		WHERE next_notification_date = ?`,

		GetRemindersByPhone: `
		SELECT reminder_id FROM reminders_by_phone WHERE phone_hash = ?`,

		GetStationBySlug: `
		SELECT id, slug, name, county, active, created_at
		FROM stations WHERE slug = ?`,
	}
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if err == gocql.ErrNotFound {
				return err
			}
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
