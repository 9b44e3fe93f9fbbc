package aggregate

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/andresmejia3/moodtrace/internal/eventlog"
	"github.com/andresmejia3/moodtrace/internal/types"
)

const header = "Timestamp,Detected Object,Emotion\n"

func TestAggregateScenarios(t *testing.T) {
	tests := []struct {
		name    string
		log     string
		want    map[string]map[string]int
		wantErr error
	}{
		{
			name: "Two objects, two emotions",
			log:  header + "2024-01-01 00:00:00,cell phone,happy\n2024-01-01 00:00:01,book,sad\n",
			want: map[string]map[string]int{
				"cell phone": {"happy": 1, "sad": 0},
				"book":       {"happy": 0, "sad": 1},
			},
		},
		{
			name: "Non-whitelisted object is dropped silently",
			log:  header + "2024-01-01 00:00:00,tablet,happy\n2024-01-01 00:00:01,book,sad\n",
			want: map[string]map[string]int{
				"book": {"sad": 1},
			},
		},
		{
			name:    "Wrong header",
			log:     "Foo,Bar,Baz\n2024-01-01 00:00:00,book,sad\n",
			wantErr: eventlog.ErrLogFormat,
		},
		{
			name:    "Missing header",
			log:     "",
			wantErr: eventlog.ErrLogFormat,
		},
		{
			name:    "Header only",
			log:     header,
			wantErr: ErrEmptyAggregate,
		},
		{
			name:    "Only filtered rows",
			log:     header + "2024-01-01 00:00:00,laptop,angry\n",
			wantErr: ErrEmptyAggregate,
		},
		{
			name: "Labels are normalized",
			log:  header + "2024-01-01 00:00:00,  Cell Phone ,HAPPY \n2024-01-01 00:00:01,cell phone,happy\n",
			want: map[string]map[string]int{
				"cell phone": {"happy": 2},
			},
		},
		{
			name: "Rows with missing fields are dropped",
			log:  header + "2024-01-01 00:00:00,book\n2024-01-01 00:00:01,,happy\n2024-01-01 00:00:02,other,\n2024-01-01 00:00:03,other,fear\n",
			want: map[string]map[string]int{
				"other": {"fear": 1},
			},
		},
		{
			name:    "Broken quoting is unreadable",
			log:     header + "2024-01-01 00:00:00,\"book,sad\n",
			wantErr: eventlog.ErrLogFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, err := New(nil).Aggregate(strings.NewReader(tt.log))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Aggregate() error = %v, want %v", err, tt.wantErr)
				}
				if m != nil {
					t.Errorf("Expected no matrix on error, got %+v", m)
				}
				return
			}
			if err != nil {
				t.Fatalf("Aggregate() unexpected error: %v", err)
			}
			if !reflect.DeepEqual(m.Counts, tt.want) {
				t.Errorf("Counts = %v, want %v", m.Counts, tt.want)
			}
		})
	}
}

func TestAggregateIsDeterministic(t *testing.T) {
	log := header +
		"2024-01-01 00:00:00,book,sad\n" +
		"2024-01-01 00:00:01,cell phone,happy\n" +
		"2024-01-01 00:00:02,other,neutral\n" +
		"2024-01-01 00:00:03,book,happy\n"

	a := New(nil)
	first, _, err := a.Aggregate(strings.NewReader(log))
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := a.Aggregate(strings.NewReader(log))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Re-aggregating the same snapshot differs:\n%+v\n%+v", first, second)
	}

	wantObjects := []string{"book", "cell phone", "other"}
	wantEmotions := []string{"happy", "neutral", "sad"}
	if !reflect.DeepEqual(first.Objects, wantObjects) {
		t.Errorf("Objects = %v, want %v", first.Objects, wantObjects)
	}
	if !reflect.DeepEqual(first.Emotions, wantEmotions) {
		t.Errorf("Emotions = %v, want %v", first.Emotions, wantEmotions)
	}
	if first.Total != 4 {
		t.Errorf("Total = %d, want 4", first.Total)
	}
	if got := first.RowTotal("book"); got != 2 {
		t.Errorf("RowTotal(book) = %d, want 2", got)
	}
}

func TestAggregateStats(t *testing.T) {
	log := header +
		"2024-01-01 00:00:00,tablet,happy\n" +
		"2024-01-01 00:00:01,book,\n" +
		"2024-01-01 00:00:02,Book,sad\n"

	_, stats, err := New(nil).Aggregate(strings.NewReader(log))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Rows != 3 || stats.DroppedMissing != 1 || stats.DroppedFilter != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if !reflect.DeepEqual(stats.RawObjects, []string{"book", "tablet"}) {
		t.Errorf("RawObjects = %v", stats.RawObjects)
	}
}

func TestCustomWhitelist(t *testing.T) {
	log := header + "2024-01-01 00:00:00,Tablet,happy\n2024-01-01 00:00:01,book,sad\n"
	m, _, err := New([]string{" TABLET "}).Aggregate(strings.NewReader(log))
	if err != nil {
		t.Fatal(err)
	}
	if m.Count("tablet", "happy") != 1 {
		t.Errorf("Expected tablet/happy = 1, got %v", m.Counts)
	}
	if _, ok := m.Counts["book"]; ok {
		t.Errorf("book should be filtered by the custom whitelist")
	}
}

func TestNormalizeLabelIdempotent(t *testing.T) {
	for _, s := range []string{"  Cell Phone ", "HAPPY", "neutral", ""} {
		once := types.NormalizeLabel(s)
		if twice := types.NormalizeLabel(once); twice != once {
			t.Errorf("types.NormalizeLabel(%q) not idempotent: %q -> %q", s, once, twice)
		}
	}
}

func TestFromCounts(t *testing.T) {
	if _, err := FromCounts(nil); !errors.Is(err, ErrEmptyAggregate) {
		t.Errorf("FromCounts(nil) error = %v, want ErrEmptyAggregate", err)
	}
	if _, err := FromCounts(map[string]map[string]int{"book": {"sad": 0}}); !errors.Is(err, ErrEmptyAggregate) {
		t.Errorf("Zero counts should be empty, got %v", err)
	}

	m, err := FromCounts(map[string]map[string]int{"book": {"sad": 2}, "other": {"happy": 1}})
	if err != nil {
		t.Fatal(err)
	}
	if m.Count("book", "happy") != 0 || m.Count("book", "sad") != 2 {
		t.Errorf("Unexpected matrix %v", m.Counts)
	}
	if _, ok := m.Counts["book"]["happy"]; !ok {
		t.Errorf("Dense matrix must carry zero cells")
	}
	if m.Count("missing", "sad") != 0 {
		t.Errorf("Unknown row should read as zero")
	}
}
