package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"startup-inspector/internal/domain/model"
)

func TestStoreReplaceAndLookup(t *testing.T) {
	s := NewStore()
	_, ok := s.Category(model.CategoryLaunchAgents)
	assert.False(t, ok)

	var changes []Change
	cancel := s.Subscribe(func(c Change) { changes = append(changes, c) })

	s.Replace(CategoryState{
		Category: model.CategoryLaunchAgents,
		Status:   model.SourceOK,
		Records:  []model.LaunchRecord{agentRec("com.example.a", true, model.ServiceAttrs{ProgramArguments: []string{"/bin/a"}})},
	})
	require.Len(t, changes, 1)
	assert.Equal(t, Change{Category: model.CategoryLaunchAgents, Count: 1, Status: model.SourceOK}, changes[0])

	rec, ok := s.Lookup(model.CategoryLaunchAgents, "com.example.a")
	require.True(t, ok)
	rec.Service.ProgramArguments[0] = "/tmp/changed"

	again, _ := s.Lookup(model.CategoryLaunchAgents, "com.example.a")
	assert.Equal(t, "/bin/a", again.Service.ProgramArguments[0], "callers receive copies")

	cancel()
	s.Replace(CategoryState{Category: model.CategoryLoginItems})
	assert.Len(t, changes, 1)
}

func TestStoreAllUsesCategoryOrder(t *testing.T) {
	s := NewStore()
	s.Replace(CategoryState{Category: model.CategoryLaunchAgents, Records: []model.LaunchRecord{agentRec("b", true, model.ServiceAttrs{})}})
	s.Replace(CategoryState{Category: model.CategoryLoginItems, Records: []model.LaunchRecord{loginRec("a", true)}})

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, model.CategoryLoginItems, all[0].Category)
	assert.Equal(t, model.CategoryLaunchAgents, all[1].Category)
}
