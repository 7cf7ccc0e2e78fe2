package linkage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestPrimaryRoleOf(t *testing.T) {
	t.Run("last role wins", func(t *testing.T) {
		roles := []models.Role{
			{ID: "a", Name: "viewer"},
			{ID: "b", Name: "editor"},
			{ID: "c", Name: "admin"},
		}

		primary := PrimaryRoleOf(roles)
		require.NotNil(t, primary)
		require.NotNil(t, primary.ID)
		require.NotNil(t, primary.Name)
		assert.Equal(t, "c", *primary.ID)
		assert.Equal(t, "admin", *primary.Name)
	})

	t.Run("single role", func(t *testing.T) {
		primary := PrimaryRoleOf([]models.Role{{ID: "a", Name: "admin"}})
		require.NotNil(t, primary.Name)
		assert.Equal(t, "admin", *primary.Name)
	})

	t.Run("empty set yields explicit empty marker", func(t *testing.T) {
		primary := PrimaryRoleOf(nil)
		require.NotNil(t, primary)
		assert.Nil(t, primary.ID)
		assert.Nil(t, primary.Name)
	})
}
