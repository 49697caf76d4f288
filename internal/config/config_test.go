package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	s := Default()
	require.NoError(t, s.Validate())
	assert.True(t, s.AutoDiscardEnabled)
	assert.Equal(t, 15, s.DiscardIntervalMinutes)
	assert.Equal(t, 12, s.IdleTabThresholdHours)
	assert.Equal(t, 30, s.DataRetentionDays)
	assert.NotNil(t, s.TargetSites)
	assert.Empty(t, s.TargetSites)
}

func TestValidate_Interval(t *testing.T) {
	for _, minutes := range []int{5, 10, 15, 30} {
		s := Default()
		s.DiscardIntervalMinutes = minutes
		assert.NoError(t, s.Validate(), "interval %d", minutes)
	}
	for _, minutes := range []int{0, -5, 1, 7, 20, 60} {
		s := Default()
		s.DiscardIntervalMinutes = minutes
		err := s.Validate()
		require.Error(t, err, "interval %d", minutes)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "discardInterval", verr.Field)
	}
}

func TestValidate_IdleThreshold(t *testing.T) {
	s := Default()
	s.IdleTabThresholdHours = 0
	assert.NoError(t, s.Validate(), "zero disables the idle rule")

	s.IdleTabThresholdHours = MaxIdleThresholdHours
	assert.NoError(t, s.Validate())

	s.IdleTabThresholdHours = MaxIdleThresholdHours + 1
	require.Error(t, s.Validate())

	s.IdleTabThresholdHours = -1
	var verr *ValidationError
	require.ErrorAs(t, s.Validate(), &verr)
	assert.Equal(t, "idleTabThreshold", verr.Field)
}

func TestValidate_RetentionDays(t *testing.T) {
	s := Default()
	s.DataRetentionDays = MinRetentionDays
	assert.NoError(t, s.Validate())

	s.DataRetentionDays = MaxRetentionDays
	assert.NoError(t, s.Validate())

	for _, days := range []int{0, -1, MaxRetentionDays + 1} {
		s.DataRetentionDays = days
		var verr *ValidationError
		require.ErrorAs(t, s.Validate(), &verr, "days %d", days)
		assert.Equal(t, "dataRetentionDays", verr.Field)
	}
}

func TestClone_IsolatesTargetSites(t *testing.T) {
	s := Default()
	s.TargetSites["sharepoint"] = true

	c := s.clone()
	c.TargetSites["jira"] = true

	assert.NotContains(t, s.TargetSites, "jira")
	assert.Contains(t, c.TargetSites, "sharepoint")
}
