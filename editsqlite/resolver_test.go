package editsqlite

import (
	"testing"

	"github.com/iius-rcox/ai-assistant-sub001/overedit"
	"github.com/stretchr/testify/require"
)

var triageFields = []string{"category", "urgency", "action"}

func TestResolve_DisjointChangesMerge(t *testing.T) {
	baseline := overedit.Values{"category": "WORK", "urgency": "LOW", "action": "NONE"}
	client := overedit.Values{"category": "TRAVEL", "urgency": "LOW", "action": "NONE"}
	server := overedit.Values{"category": "WORK", "urgency": "HIGH", "action": "NONE"}

	r := Resolve(triageFields, baseline, client, server)
	require.True(t, r.CanAutoResolve)
	require.Empty(t, r.ConflictingFields)
	require.Equal(t, []string{"category", "urgency"}, r.MergeableFields)
	require.Equal(t, overedit.Values{"category": "TRAVEL", "urgency": "HIGH", "action": "NONE"}, r.Merged)
}

func TestResolve_SameFieldDifferentValuesConflicts(t *testing.T) {
	baseline := overedit.Values{"category": "WORK", "urgency": "LOW", "action": "NONE"}
	client := overedit.Values{"category": "HOME", "urgency": "LOW", "action": "NONE"}
	server := overedit.Values{"category": "TRAVEL", "urgency": "LOW", "action": "NONE"}

	r := Resolve(triageFields, baseline, client, server)
	require.False(t, r.CanAutoResolve)
	require.Equal(t, []string{"category"}, r.ConflictingFields)
	require.Empty(t, r.MergeableFields)
	require.Equal(t, "TRAVEL", r.Merged["category"], "conflicting fields keep the server value in the proposal")
}

func TestResolve_Classification(t *testing.T) {
	tests := []struct {
		name        string
		b, c, s     string
		conflicting bool
		mergeable   bool
		merged      string
	}{
		{"untouched", "LOW", "LOW", "LOW", false, false, "LOW"},
		{"client only", "LOW", "HIGH", "LOW", false, true, "HIGH"},
		{"server only", "LOW", "LOW", "MEDIUM", false, true, "MEDIUM"},
		{"both same", "LOW", "HIGH", "HIGH", false, true, "HIGH"},
		{"both different", "LOW", "HIGH", "MEDIUM", true, false, "MEDIUM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Resolve([]string{"urgency"},
				overedit.Values{"urgency": tt.b},
				overedit.Values{"urgency": tt.c},
				overedit.Values{"urgency": tt.s})
			require.Equal(t, tt.conflicting, len(r.ConflictingFields) == 1)
			require.Equal(t, tt.mergeable, len(r.MergeableFields) == 1)
			require.Equal(t, !tt.conflicting, r.CanAutoResolve)
			require.Equal(t, tt.merged, r.Merged["urgency"])
		})
	}
}

func TestResolve_DoesNotAliasInputs(t *testing.T) {
	baseline := overedit.Values{"urgency": "LOW"}
	client := overedit.Values{"urgency": "HIGH"}
	server := overedit.Values{"urgency": "LOW"}
	r := Resolve([]string{"urgency"}, baseline, client, server)
	r.Merged["urgency"] = "MEDIUM"
	require.Equal(t, "LOW", server["urgency"])
	require.Equal(t, "HIGH", r.ClientValues["urgency"])
}

func TestDirtyFieldsAndDiff(t *testing.T) {
	baseline := overedit.Values{"category": "WORK", "urgency": "LOW", "action": "NONE"}
	current := overedit.Values{"category": "WORK", "urgency": "HIGH", "action": "REPLY"}
	require.Equal(t, []string{"urgency", "action"}, dirtyFields(triageFields, baseline, current))
	require.Equal(t, overedit.Values{"urgency": "HIGH", "action": "REPLY"}, diffValues(triageFields, baseline, current))
	require.Empty(t, dirtyFields(triageFields, baseline, baseline.Clone()))
}
