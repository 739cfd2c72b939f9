package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cvcsreplay/cvcsreplay/internal/model"
)

func TestPrecedenceLowestBitWins(t *testing.T) {
	assert.Equal(t, 1, Precedence(model.Delete|model.Merge))
	assert.Equal(t, 2, Precedence(model.Rename))
	assert.Equal(t, 2, Precedence(model.SourceRename))
	assert.Equal(t, 3, Precedence(model.Add))
	assert.Equal(t, 4, Precedence(model.Edit))
	assert.Equal(t, 6, Precedence(model.Branch))
	assert.Equal(t, 7, Precedence(model.ChangeTypeMask(0)))
}

func TestSortOrdersByPrecedenceThenSegmentsThenPath(t *testing.T) {
	changes := []model.Change{
		{ServerPath: "/p/b/x", ChangeType: model.Edit},
		{ServerPath: "/p/a", ChangeType: model.Delete},
		{ServerPath: "/p/c", ChangeType: model.Add},
		{ServerPath: "/p/a/b", ChangeType: model.Add},
	}
	Sort(changes)

	assert.Equal(t, "/p/a", changes[0].ServerPath) // Delete: rank 1
	assert.Equal(t, "/p/c", changes[1].ServerPath)  // Add, 2 segments
	assert.Equal(t, "/p/a/b", changes[2].ServerPath) // Add, 3 segments
	assert.Equal(t, "/p/b/x", changes[3].ServerPath) // Edit: rank 4
}

func TestSortPlacesRenameImmediatelyBeforeItsAdd(t *testing.T) {
	changes := []model.Change{
		{ServerPath: "/p/new", ChangeType: model.Add},
		{
			ServerPath: "/p/other", ChangeType: model.Rename,
			MergeSources: []model.MergeSource{{SourcePath: "/p/new", VersionFrom: 1, VersionTo: 1}},
		},
	}
	Sort(changes)

	// The rename's source is /p/new, the add's target; the rename must
	// land immediately before the add regardless of precedence order.
	assert.Equal(t, "/p/other", changes[0].ServerPath)
	assert.Equal(t, "/p/new", changes[1].ServerPath)
}

func TestClassifyNoOpTable(t *testing.T) {
	cases := []struct {
		name     string
		mask     model.ChangeTypeMask
		itemType model.ItemType
		want     Disposition
	}{
		{"folder delete is no-op", model.Delete, model.ItemFolder, DispositionNoOp},
		{"folder add ensures dir", model.Add, model.ItemFolder, DispositionEnsureDir},
		{"delete+sourcerename is no-op", model.Delete | model.SourceRename, model.ItemFile, DispositionNoOp},
		{"merge+sourcerename+delete is no-op", model.Merge | model.SourceRename | model.Delete, model.ItemFile, DispositionNoOp},
		{"merge alone is no-op", model.Merge, model.ItemFile, DispositionNoOp},
		{"merge+edit is normal", model.Merge | model.Edit, model.ItemFile, DispositionNormal},
		{"merge+branch is normal", model.Merge | model.Branch, model.ItemFile, DispositionNormal},
		{"plain add is normal", model.Add, model.ItemFile, DispositionNormal},
		{"plain edit is normal", model.Edit, model.ItemFile, DispositionNormal},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Classify(c.mask, c.itemType))
		})
	}
}
