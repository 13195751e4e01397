package testing

import (
	"fmt"
	"math/rand"

	"github.com/amirphl/leadrelay/models"
	"github.com/amirphl/leadrelay/utils"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// RandomOrgID returns an organization id unlikely to collide between subtests
func RandomOrgID() uint {
	return uint(rand.Intn(1_000_000) + 1)
}

// CreateTestPartition creates a partition for orgID. maxOrder 0 disables distribution.
func (tf *TestFixtures) CreateTestPartition(orgID uint, maxOrder int, defaults models.DistributionDefaults) (*models.Partition, error) {
	p := &models.Partition{
		OrgID:                orgID,
		Name:                 "partition-" + uuid.NewString()[:8],
		UseDistributionOrder: maxOrder > 0,
		MaxDistributionOrder: max(maxOrder, 1),
		DistributionDefaults: datatypes.NewJSONType(defaults),
	}
	if err := tf.DB.DB.Create(p).Error; err != nil {
		return nil, fmt.Errorf("failed to create partition: %w", err)
	}
	return p, nil
}

// CreateTestRecord creates a record holding data in partition p
func (tf *TestFixtures) CreateTestRecord(p *models.Partition, data map[string]any) (*models.Record, error) {
	r := &models.Record{
		OrgID:       p.OrgID,
		PartitionID: p.ID,
		Data:        datatypes.JSONMap(data),
	}
	if err := tf.DB.DB.Create(r).Error; err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}
	return r, nil
}

// CreateTestMessageLink creates an active link on p. Templates and mappings get usable defaults.
func (tf *TestFixtures) CreateTestMessageLink(p *models.Partition, channel models.Channel, trigger models.TriggerType, repeat models.RepeatConfig) (*models.MessageLink, error) {
	recipientField := "email"
	if channel == models.ChannelChat {
		recipientField = "phone"
	}
	l := &models.MessageLink{
		OrgID:            p.OrgID,
		PartitionID:      p.ID,
		Name:             "link-" + uuid.NewString()[:8],
		Channel:          channel,
		RecipientField:   recipientField,
		TitleTemplate:    "Hello {{name}}",
		BodyTemplate:     "Dear {{name}}, thanks for reaching out.",
		VariableMappings: datatypes.NewJSONType(map[string]string{"name": "first_name"}),
		TriggerType:      trigger,
		RepeatConfig:     repeat,
		IsActive:         utils.ToPtr(true),
	}
	if err := tf.DB.DB.Create(l).Error; err != nil {
		return nil, fmt.Errorf("failed to create message link: %w", err)
	}
	return l, nil
}

// CreateTestSendLog inserts a send log for link and record with the given status
func (tf *TestFixtures) CreateTestSendLog(l *models.MessageLink, r *models.Record, status models.SendLogStatus, occurrenceKey string, providerRequestID *string) (*models.SendLog, error) {
	s := &models.SendLog{
		OrgID:             l.OrgID,
		Channel:           l.Channel,
		LinkID:            l.ID,
		RecordID:          r.ID,
		Recipient:         "someone@example.com",
		Status:            status,
		OccurrenceKey:     occurrenceKey,
		ProviderRequestID: providerRequestID,
	}
	if status != models.SendLogStatusPending {
		s.CompletedAt = utils.UTCNowPtr()
	}
	if err := tf.DB.DB.Create(s).Error; err != nil {
		return nil, fmt.Errorf("failed to create send log: %w", err)
	}
	return s, nil
}
