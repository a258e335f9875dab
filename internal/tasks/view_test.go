package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func sampleTasks() []Task {
	return []Task{
		{ID: "a", Title: "Buy Milk", Status: StatusTodo, DueDate: "2025-03-01"},
		{ID: "b", Title: "write report", Status: StatusDoing},
		{ID: "c", Title: "Call Bob", Status: StatusDone, DueDate: "2025-01-15"},
		{ID: "d", Title: "almond milk order", Status: StatusTodo, DueDate: "2025-02-10"},
		{ID: "e", Title: "Review PR", Status: StatusDoing},
	}
}

func ids(list []Task) []string {
	out := make([]string, 0, len(list))
	for _, t := range list {
		out = append(out, t.ID)
	}
	return out
}

func TestProject_DefaultKeepsOrder(t *testing.T) {
	raw := sampleTasks()
	got := Project(raw, DefaultCriteria())
	assert.Equal(t, ids(raw), ids(got))
}

func TestProject_DoesNotMutateInput(t *testing.T) {
	raw := sampleTasks()
	before := Clone(raw)

	Project(raw, Criteria{Filter: Filter(StatusTodo), Sort: SortTitleAsc, Search: "milk"})

	assert.Equal(t, before, raw)
}

func TestProject_Idempotent(t *testing.T) {
	raw := sampleTasks()
	crit := Criteria{Filter: FilterAll, Sort: SortDueDateDesc, Search: "r"}

	first := Project(raw, crit)
	second := Project(raw, crit)
	assert.Equal(t, first, second)
}

func TestProject_FilterByStatus(t *testing.T) {
	raw := sampleTasks()
	for _, st := range AllStatuses() {
		got := Project(raw, Criteria{Filter: Filter(st)})
		require.NotEmpty(t, got)
		for _, task := range got {
			assert.Equal(t, st, task.Status)
		}
	}

	assert.Len(t, Project(raw, Criteria{Filter: FilterAll}), len(raw))
}

func TestProject_SearchCaseInsensitive(t *testing.T) {
	raw := sampleTasks()

	got := Project(raw, Criteria{Filter: FilterAll, Search: "  MILK "})
	assert.Equal(t, []string{"a", "d"}, ids(got))

	got = Project(raw, Criteria{Filter: FilterAll, Search: "milk"})
	assert.Equal(t, []string{"a", "d"}, ids(got))

	got = Project(raw, Criteria{Filter: FilterAll, Search: "   "})
	assert.Len(t, got, len(raw))

	got = Project(raw, Criteria{Filter: FilterAll, Search: "nothing matches"})
	assert.Empty(t, got)
}

func TestProject_FilterThenSearch(t *testing.T) {
	got := Project(sampleTasks(), Criteria{Filter: Filter(StatusTodo), Search: "almond"})
	assert.Equal(t, []string{"d"}, ids(got))
}

func TestProject_TitleSort(t *testing.T) {
	raw := sampleTasks()

	asc := Project(raw, Criteria{Filter: FilterAll, Sort: SortTitleAsc})
	assert.Equal(t, []string{"d", "a", "c", "e", "b"}, ids(asc))

	desc := Project(raw, Criteria{Filter: FilterAll, Sort: SortTitleDesc})
	reversed := make([]string, 0, len(asc))
	for i := len(asc) - 1; i >= 0; i-- {
		reversed = append(reversed, asc[i].ID)
	}
	assert.Equal(t, reversed, ids(desc))
}

func TestProject_TitleSortLocale(t *testing.T) {
	raw := []Task{
		{ID: "1", Title: "Zebra"},
		{ID: "2", Title: "Äpfel"},
		{ID: "3", Title: "Birne"},
	}

	got := Project(raw, Criteria{Filter: FilterAll, Sort: SortTitleAsc}, WithLocale(language.German))
	assert.Equal(t, []string{"2", "3", "1"}, ids(got))
}

func TestProject_DueDateSortAbsentFirstAscending(t *testing.T) {
	raw := sampleTasks()

	asc := Project(raw, Criteria{Filter: FilterAll, Sort: SortDueDateAsc})
	assert.Equal(t, []string{"b", "e", "c", "d", "a"}, ids(asc))
	assert.False(t, asc[0].HasDueDate())
	assert.False(t, asc[1].HasDueDate())

	desc := Project(raw, Criteria{Filter: FilterAll, Sort: SortDueDateDesc})
	assert.Equal(t, []string{"a", "d", "c", "b", "e"}, ids(desc))
	assert.False(t, desc[len(desc)-1].HasDueDate())
	assert.False(t, desc[len(desc)-2].HasDueDate())
}

func TestProject_EmptyInput(t *testing.T) {
	got := Project(nil, Criteria{Filter: FilterAll, Sort: SortTitleAsc, Search: "x"})
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestParseFilterAndSort(t *testing.T) {
	f, err := ParseFilter("doing")
	require.NoError(t, err)
	assert.Equal(t, Filter(StatusDoing), f)

	f, err = ParseFilter("all")
	require.NoError(t, err)
	assert.Equal(t, FilterAll, f)

	_, err = ParseFilter("archived")
	require.ErrorIs(t, err, ErrInvalidFilter)

	s, err := ParseSort("none")
	require.NoError(t, err)
	assert.Equal(t, SortNone, s)

	s, err = ParseSort("dueDateDesc")
	require.NoError(t, err)
	assert.Equal(t, SortDueDateDesc, s)

	_, err = ParseSort("priority")
	require.ErrorIs(t, err, ErrInvalidSort)
}
