package settings_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tally/internal/settings"
	"tally/internal/testsupport"
)

func TestIsIPExcluded(t *testing.T) {
	t.Run("excludes exact IP match", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		store := settings.NewStore(db, logger)
		require.NoError(t, store.SetupDefaults())

		err := store.Set("excluded_ips", "192.168.1.100")
		require.NoError(t, err)

		isExcluded, err := store.IsIPExcluded("192.168.1.100")
		require.NoError(t, err)
		assert.True(t, isExcluded, "The exact IP in the exclusion list should be excluded")

		isExcluded, err = store.IsIPExcluded("192.168.1.101")
		require.NoError(t, err)
		assert.False(t, isExcluded, "A different IP should not be excluded")
	})

	t.Run("handles IPs with whitespace", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		store := settings.NewStore(db, logger)
		require.NoError(t, store.SetupDefaults())

		err := store.Set("excluded_ips", " 192.168.1.100 , 10.0.0.1 ")
		require.NoError(t, err)

		isExcluded, err := store.IsIPExcluded("192.168.1.100")
		require.NoError(t, err)
		assert.True(t, isExcluded, "IP should be excluded even with spaces in the setting")

		isExcluded, err = store.IsIPExcluded("10.0.0.1")
		require.NoError(t, err)
		assert.True(t, isExcluded, "Second IP should be excluded even with spaces in the setting")
	})

	t.Run("handles empty exclusion value", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		store := settings.NewStore(db, logger)
		require.NoError(t, store.SetupDefaults())

		err := store.Set("excluded_ips", "")
		require.NoError(t, err)

		isExcluded, err := store.IsIPExcluded("192.168.1.100")
		require.NoError(t, err)
		assert.False(t, isExcluded, "With empty exclusion value, no IPs should be excluded")
	})

	t.Run("reflects updates to exclusion list", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		store := settings.NewStore(db, logger)
		require.NoError(t, store.SetupDefaults())

		err := store.Set("excluded_ips", "192.168.1.100")
		require.NoError(t, err)

		isExcluded, err := store.IsIPExcluded("192.168.1.100")
		require.NoError(t, err)
		assert.True(t, isExcluded, "Initial IP should be excluded")

		testIP := "10.0.0.5"
		isExcluded, err = store.IsIPExcluded(testIP)
		require.NoError(t, err)
		assert.False(t, isExcluded, "Second IP should not be excluded initially")

		err = store.Set("excluded_ips", "192.168.1.100,10.0.0.5")
		require.NoError(t, err)

		isExcluded, err = store.IsIPExcluded(testIP)
		require.NoError(t, err)
		assert.True(t, isExcluded, "Second IP should be excluded after update")
	})
}

func TestGetSetting(t *testing.T) {
	t.Run("returns value for existing setting", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		store := settings.NewStore(db, logger)
		require.NoError(t, store.SetupDefaults())

		err := store.Set("test_setting", "test_value")
		require.NoError(t, err)

		value, err := store.Get("test_setting")
		require.NoError(t, err)
		assert.Equal(t, "test_value", value, "Get should return the correct value")
	})

	t.Run("returns error for non-existent setting", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		store := settings.NewStore(db, logger)
		require.NoError(t, store.SetupDefaults())

		_, err := store.Get("non_existent")
		assert.Error(t, err, "Get should return an error for non-existent setting")
	})
}

func TestSetSetting(t *testing.T) {
	t.Run("updates existing setting", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		store := settings.NewStore(db, logger)
		require.NoError(t, store.SetupDefaults())

		err := store.Set("test_setting", "initial_value")
		require.NoError(t, err)

		value, err := store.Get("test_setting")
		require.NoError(t, err)
		assert.Equal(t, "initial_value", value)

		err = store.Set("test_setting", "updated_value")
		require.NoError(t, err)

		value, err = store.Get("test_setting")
		require.NoError(t, err)
		assert.Equal(t, "updated_value", value, "Set should update the value correctly")
	})

	t.Run("creates new setting if not exists", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		store := settings.NewStore(db, logger)
		require.NoError(t, store.SetupDefaults())

		err := store.Set("new_setting", "new_value")
		require.NoError(t, err)

		value, err := store.Get("new_setting")
		require.NoError(t, err)
		assert.Equal(t, "new_value", value, "Set should create a new setting if it doesn't exist")
	})
}

func TestCacheConsistency(t *testing.T) {
	t.Run("cache reflects setting changes", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		store := settings.NewStore(db, logger)
		require.NoError(t, store.SetupDefaults())

		err := store.Set("excluded_ips", "192.168.1.1")
		require.NoError(t, err)

		isExcluded, err := store.IsIPExcluded("192.168.1.1")
		require.NoError(t, err)
		assert.True(t, isExcluded, "Initial IP should be excluded")

		err = store.Set("excluded_ips", "192.168.1.1,192.168.1.2")
		require.NoError(t, err)

		isExcluded, err = store.IsIPExcluded("192.168.1.2")
		require.NoError(t, err)
		assert.True(t, isExcluded, "New IP should be excluded after cache update")

		err = store.Set("excluded_ips", "192.168.1.2")
		require.NoError(t, err)

		isExcluded, err = store.IsIPExcluded("192.168.1.1")
		require.NoError(t, err)
		assert.False(t, isExcluded, "First IP should no longer be excluded after removal")
	})
}

func TestSetupDefaultsKeepsExistingValues(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	store := settings.NewStore(dbManager.GetConnection(), logger)

	require.NoError(t, store.SetupDefaults())
	require.NoError(t, store.SetExcludedIPs([]string{"203.0.113.5"}))
	require.NoError(t, store.SetupDefaults())

	ips, err := store.ExcludedIPs()
	require.NoError(t, err)
	assert.Equal(t, []string{"203.0.113.5"}, ips)
}

func TestParseIPList(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", nil},
		{" , ,", nil},
		{"10.0.0.1", []string{"10.0.0.1"}},
		{" 10.0.0.1 ,2001:db8::1,, ", []string{"10.0.0.1", "2001:db8::1"}},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.want, settings.ParseIPList(tc.input))
		})
	}
}
