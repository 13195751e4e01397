package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestSendLogStatus(t *testing.T) {
	t.Run("RoundTripsThroughDriver", func(t *testing.T) {
		for _, s := range []SendLogStatus{SendLogStatusPending, SendLogStatusSent, SendLogStatusFailed, SendLogStatusRejected} {
			v, err := s.Value()
			require.NoError(t, err)

			var back SendLogStatus
			require.NoError(t, back.Scan(v))
			assert.Equal(t, s, back)

			var fromBytes SendLogStatus
			require.NoError(t, fromBytes.Scan([]byte(v.(string))))
			assert.Equal(t, s, fromBytes)
		}
	})

	t.Run("WireNames", func(t *testing.T) {
		assert.Equal(t, "pending", SendLogStatusPending.String())
		assert.Equal(t, "sent", SendLogStatusSent.String())
		assert.Equal(t, "failed", SendLogStatusFailed.String())
		assert.Equal(t, "rejected", SendLogStatusRejected.String())
	})

	t.Run("Terminal", func(t *testing.T) {
		assert.False(t, SendLogStatusPending.IsTerminal())
		assert.True(t, SendLogStatusSent.IsTerminal())
		assert.True(t, SendLogStatusFailed.IsTerminal())
		assert.True(t, SendLogStatusRejected.IsTerminal())
	})

	t.Run("InvalidValue", func(t *testing.T) {
		_, err := SendLogStatus("delivered").Value()
		assert.Error(t, err)

		var s SendLogStatus
		assert.Error(t, s.Scan(42))
		require.NoError(t, s.Scan(nil))
		assert.Equal(t, SendLogStatus(""), s)
	})
}

func TestChannelAndTriggerType(t *testing.T) {
	t.Run("ChannelRoundTrip", func(t *testing.T) {
		for _, c := range []Channel{ChannelChat, ChannelEmail} {
			v, err := c.Value()
			require.NoError(t, err)
			var back Channel
			require.NoError(t, back.Scan(v))
			assert.Equal(t, c, back)
		}
		_, err := Channel("sms").Value()
		assert.Error(t, err)
	})

	t.Run("TriggerTypeRoundTrip", func(t *testing.T) {
		for _, tt := range []TriggerType{TriggerTypeManual, TriggerTypeOnCreate, TriggerTypeOnUpdate} {
			v, err := tt.Value()
			require.NoError(t, err)
			var back TriggerType
			require.NoError(t, back.Scan([]byte(v.(string))))
			assert.Equal(t, tt, back)
		}
		assert.False(t, TriggerTypeManual.IsEvent())
		assert.True(t, TriggerTypeOnCreate.IsEvent())
		assert.True(t, TriggerTypeOnUpdate.IsEvent())
	})
}

func TestTriggerCondition(t *testing.T) {
	t.Run("EmptyStoredAsNull", func(t *testing.T) {
		v, err := TriggerCondition{}.Value()
		require.NoError(t, err)
		assert.Nil(t, v)

		var c TriggerCondition
		require.NoError(t, c.Scan(nil))
		assert.True(t, c.IsZero())
		require.NoError(t, c.Scan([]byte("null")))
		assert.True(t, c.IsZero())
	})

	t.Run("RoundTrip", func(t *testing.T) {
		c := TriggerCondition{Match: ConditionMatchAny, Clauses: []ConditionClause{
			{Field: "stage", Operator: OperatorEquals, Value: "won"},
			{Field: "budget", Operator: OperatorGreaterOrEq, Value: "1000"},
		}}
		v, err := c.Value()
		require.NoError(t, err)

		var back TriggerCondition
		require.NoError(t, back.Scan(v))
		assert.Equal(t, c, back)
	})

	t.Run("Validate", func(t *testing.T) {
		assert.NoError(t, TriggerCondition{}.Validate())
		assert.NoError(t, TriggerCondition{Clauses: []ConditionClause{{Field: "x", Operator: OperatorIsEmpty}}}.Validate())
		assert.Error(t, TriggerCondition{Match: "some"}.Validate())
		assert.Error(t, TriggerCondition{Clauses: []ConditionClause{{Operator: OperatorEquals}}}.Validate())
		assert.Error(t, TriggerCondition{Clauses: []ConditionClause{{Field: "x", Operator: "like"}}}.Validate())
		assert.Error(t, TriggerCondition{Clauses: []ConditionClause{{Field: "x", Operator: OperatorLessThan, Value: "abc"}}}.Validate())
	})
}

func TestRepeatConfig(t *testing.T) {
	t.Run("Validate", func(t *testing.T) {
		assert.NoError(t, RepeatConfig{}.Validate())
		assert.NoError(t, RepeatConfig{Policy: RepeatPolicyAlways, CooldownSeconds: 30}.Validate())
		assert.Error(t, RepeatConfig{Policy: "twice"}.Validate())
		assert.Error(t, RepeatConfig{Policy: RepeatPolicyAlways, CooldownSeconds: -1}.Validate())
		assert.Error(t, RepeatConfig{Policy: RepeatPolicyOnce, CooldownSeconds: 30}.Validate())
	})

	t.Run("EffectivePolicyDefaultsByTrigger", func(t *testing.T) {
		assert.Equal(t, RepeatPolicyOnce, (&MessageLink{TriggerType: TriggerTypeOnCreate}).EffectiveRepeatPolicy())
		assert.Equal(t, RepeatPolicyAlways, (&MessageLink{TriggerType: TriggerTypeOnUpdate}).EffectiveRepeatPolicy())
		assert.Equal(t, RepeatPolicyOnce, (&MessageLink{TriggerType: TriggerTypeOnUpdate, RepeatConfig: RepeatConfig{Policy: RepeatPolicyOnce}}).EffectiveRepeatPolicy())
	})

	t.Run("RoundTrip", func(t *testing.T) {
		r := RepeatConfig{Policy: RepeatPolicyAlways, CooldownSeconds: 90}
		v, err := r.Value()
		require.NoError(t, err)
		var back RepeatConfig
		require.NoError(t, back.Scan(string(v.([]byte))))
		assert.Equal(t, r, back)
	})
}

func TestPersistedFieldNames(t *testing.T) {
	t.Run("PartitionUsesCamelCase", func(t *testing.T) {
		p := Partition{
			ID: 1, OrgID: 2, Name: "leads",
			UseDistributionOrder: true, MaxDistributionOrder: 3, LastAssignedOrder: 2,
			DistributionDefaults: datatypes.NewJSONType(DistributionDefaults{"1": {"owner": "sara"}}),
		}
		raw, err := json.Marshal(p)
		require.NoError(t, err)

		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		for _, key := range []string{"orgId", "useDistributionOrder", "maxDistributionOrder", "lastAssignedOrder", "distributionDefaults", "createdAt"} {
			assert.Contains(t, m, key)
		}
	})

	t.Run("MessageLinkUsesCamelCase", func(t *testing.T) {
		l := MessageLink{
			Channel: ChannelEmail, TriggerType: TriggerTypeOnUpdate,
			VariableMappings: datatypes.NewJSONType(map[string]string{"name": "first_name"}),
			RepeatConfig:     RepeatConfig{Policy: RepeatPolicyAlways, CooldownSeconds: 5},
		}
		raw, err := json.Marshal(l)
		require.NoError(t, err)

		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		for _, key := range []string{"partitionId", "recipientField", "titleTemplate", "bodyTemplate", "variableMappings", "triggerType", "triggerCondition", "repeatConfig", "isActive"} {
			assert.Contains(t, m, key)
		}
		assert.Equal(t, "on_update", m["triggerType"])
		assert.Equal(t, map[string]any{"policy": "always", "cooldownSeconds": float64(5)}, m["repeatConfig"])
	})

	t.Run("SendLogStatusRoundTripsInJSON", func(t *testing.T) {
		now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		reqID := "req-1"
		l := SendLog{ID: 4, OrgID: 1, Channel: ChannelChat, LinkID: 2, RecordID: 3, Status: SendLogStatusRejected, OccurrenceKey: "once", ProviderRequestID: &reqID, CompletedAt: &now}
		raw, err := json.Marshal(l)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"status":"rejected"`)
		assert.Contains(t, string(raw), `"providerRequestId":"req-1"`)
		assert.Contains(t, string(raw), `"occurrenceKey":"once"`)

		var back SendLog
		require.NoError(t, json.Unmarshal(raw, &back))
		assert.Equal(t, SendLogStatusRejected, back.Status)
		assert.Equal(t, reqID, *back.ProviderRequestID)
	})
}

func TestDistributionDefaultsForOrder(t *testing.T) {
	d := DistributionDefaults{"2": {"owner": "sara", "priority": 1}}

	got := d.ForOrder(2)
	assert.Equal(t, map[string]any{"owner": "sara", "priority": 1}, got)

	got["owner"] = "changed"
	assert.Equal(t, "sara", d["2"]["owner"])

	assert.Empty(t, d.ForOrder(1))
	assert.Empty(t, DistributionDefaults(nil).ForOrder(1))
}

func TestRecordField(t *testing.T) {
	r := &Record{Data: datatypes.JSONMap{"email": "a@b.c"}}
	v, ok := r.Field("email")
	assert.True(t, ok)
	assert.Equal(t, "a@b.c", v)

	_, ok = r.Field("phone")
	assert.False(t, ok)

	var nilRecord *Record
	_, ok = nilRecord.Field("email")
	assert.False(t, ok)
}
