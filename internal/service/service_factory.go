package service

import (
	"go.uber.org/zap"

	"github.com/trollofun/uitdeitp/internal/bucketing"
	"github.com/trollofun/uitdeitp/internal/config"
	"github.com/trollofun/uitdeitp/internal/encryption"
	"github.com/trollofun/uitdeitp/internal/hashing"
	"github.com/trollofun/uitdeitp/internal/repository/scylla"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	verificationRepo scylla.VerificationRepository
	reminderRepo     scylla.ReminderRepository
	stationRepo      scylla.StationRepository
	hasher           *hashing.Hasher
	encryptionMgr    *encryption.EncryptionManager
	bucketingMgr     *bucketing.BucketingManager
	phoneBudget      PhoneBudget
	smsSender        SMSSender
	emailSender      EmailSender
	indexer          ReminderIndexer
	auditPublisher   AuditPublisher
	recorder         DeliveryRecorder
	logger           *zap.Logger
	cfg              *config.Config

	verificationService *VerificationService
	reminderService     *ReminderService
	batchService        *BatchService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(
	verificationRepo scylla.VerificationRepository,
	reminderRepo scylla.ReminderRepository,
	stationRepo scylla.StationRepository,
	hasher *hashing.Hasher,
	encryptionMgr *encryption.EncryptionManager,
	bucketingMgr *bucketing.BucketingManager,
	phoneBudget PhoneBudget,
	smsSender SMSSender,
	emailSender EmailSender,
	indexer ReminderIndexer,
	auditPublisher AuditPublisher,
	recorder DeliveryRecorder,
	logger *zap.Logger,
	cfg *config.Config,
) *ServiceFactory {
	return &ServiceFactory{
		verificationRepo: verificationRepo,
		reminderRepo:     reminderRepo,
		stationRepo:      stationRepo,
		hasher:           hasher,
		encryptionMgr:    encryptionMgr,
		bucketingMgr:     bucketingMgr,
		phoneBudget:      phoneBudget,
		smsSender:        smsSender,
		emailSender:      emailSender,
		indexer:          indexer,
		auditPublisher:   auditPublisher,
		recorder:         recorder,
		logger:           logger,
		cfg:              cfg,
	}
}

// VerificationService returns the verification service instance (singleton)
func (f *ServiceFactory) VerificationService() *VerificationService {
	if f.verificationService == nil {
		f.verificationService = NewVerificationService(
			f.verificationRepo,
			f.stationRepo,
			f.hasher,
			f.phoneBudget,
			f.smsSender,
			f.auditPublisher,
			f.bucketingMgr,
			f.logger,
			f.cfg,
		)
	}
	return f.verificationService
}

// ReminderService returns the reminder service instance (singleton)
func (f *ServiceFactory) ReminderService() *ReminderService {
	if f.reminderService == nil {
		f.reminderService = NewReminderService(
			f.reminderRepo,
			f.encryptionMgr,
			f.indexer,
			f.auditPublisher,
			f.logger,
			f.cfg,
		)
	}
	return f.reminderService
}

// BatchService returns the batch service instance (singleton)
func (f *ServiceFactory) BatchService() *BatchService {
	if f.batchService == nil {
		f.batchService = NewBatchService(
			f.reminderRepo,
			f.encryptionMgr,
			f.smsSender,
			f.emailSender,
			f.recorder,
			f.logger,
			f.cfg,
		)
	}
	return f.batchService
}
