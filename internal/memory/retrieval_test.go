package memory

import (
	"context"
	"slices"
	"testing"
	"time"
)

func recentRecord(id string, minute int, p Payload) *Record {
	return &Record{
		ID:        id,
		Kind:      p.Kind(),
		Payload:   p,
		CreatedAt: time.Date(2026, 1, 1, 0, minute, 0, 0, time.UTC),
	}
}

func recordIDs(recs []*Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestSelectRecent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		recs   []*Record
		window int
		want   []string
	}{
		{
			name: "newest first within window",
			recs: []*Record{
				recentRecord("m1", 1, &Message{Role: RoleAssistant, Text: "a"}),
				recentRecord("m3", 3, &Message{Role: RoleAssistant, Text: "c"}),
				recentRecord("m2", 2, &Message{Role: RoleAssistant, Text: "b"}),
			},
			window: 2,
			want:   []string{"m3", "m2"},
		},
		{
			name: "noise filtered",
			recs: []*Record{
				recentRecord("sys", 5, &SystemNote{Text: "boot"}),
				recentRecord("err", 4, &ErrorNote{Text: "oops"}),
				recentRecord("role", 3, &Message{Role: RoleSystem, Text: "prompt"}),
				recentRecord("blank", 2, &Message{Role: RoleAssistant, Text: "  "}),
				recentRecord("keep", 1, &Message{Role: RoleAssistant, Text: "x"}),
			},
			window: 5,
			want:   []string{"keep"},
		},
		{
			name: "newest user message survives truncation",
			recs: []*Record{
				recentRecord("u", 1, &Message{Role: RoleUser, Text: "question"}),
				recentRecord("a2", 2, &Message{Role: RoleAssistant, Text: "x"}),
				recentRecord("a3", 3, &Message{Role: RoleAssistant, Text: "y"}),
				recentRecord("a4", 4, &Message{Role: RoleAssistant, Text: "z"}),
			},
			window: 2,
			want:   []string{"u", "a4"},
		},
		{
			name: "newest user message survives empty text filter",
			recs: []*Record{
				recentRecord("u-old", 1, &Message{Role: RoleUser, Text: "older"}),
				recentRecord("u-new", 3, &Message{Text: ""}),
				recentRecord("a", 2, &Message{Role: RoleAssistant, Text: "x"}),
			},
			window: 3,
			want:   []string{"u-new", "a", "u-old"},
		},
		{
			name: "only the newest user message is pinned",
			recs: []*Record{
				recentRecord("u1", 1, &Message{Role: RoleUser, Text: "first"}),
				recentRecord("u2", 2, &Message{Role: RoleUser, Text: "second"}),
				recentRecord("a", 3, &Message{Role: RoleAssistant, Text: "x"}),
			},
			window: 1,
			want:   []string{"u2"},
		},
		{
			name:   "empty",
			recs:   nil,
			window: 3,
			want:   []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := recordIDs(selectRecent(tt.recs, tt.window))
			if !slices.Equal(got, tt.want) {
				t.Fatalf("selectRecent = %v, want %v", got, tt.want)
			}
		})
	}
}

// staticIndex returns fixed ids.
type staticIndex struct{ ids []string }

func (staticIndex) Upsert(context.Context, *Record) error        { return nil }
func (staticIndex) Delete(context.Context, string, string) error { return nil }
func (s staticIndex) Query(context.Context, string, []float32, float32, int) ([]string, error) {
	return s.ids, nil
}

func TestRetrievalEngine_IndexSkipsMissingRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	adapter := NewMemAdapter()
	conn, _ := adapter.Acquire(ctx)
	defer conn.Release()
	if err := conn.Insert(ctx, recentRecord("live", 1, &Message{Text: "x"}), ""); err != nil {
		t.Fatalf("Insert: unexpected error: %v", err)
	}

	e := NewRetrievalEngine(RetrievalConfig{}, staticIndex{ids: []string{"gone", "live"}}, nil)
	got, err := e.SearchSemantic(ctx, conn, []float32{1}, "room", 0.5, 10)
	if err != nil {
		t.Fatalf("SearchSemantic: unexpected error: %v", err)
	}
	if ids := recordIDs(got); !slices.Equal(ids, []string{"live"}) {
		t.Fatalf("ids = %v, want [live]", ids)
	}
}

func TestRetrievalConfig_Defaults(t *testing.T) {
	t.Parallel()

	var c RetrievalConfig
	c.defaults()
	if c.DefaultLimit != DefaultSearchLimit || c.FallbackMinFetch != defaultFallbackMinFetch || c.FallbackBuffer != defaultFallbackBuffer {
		t.Fatalf("defaults = %+v", c)
	}

	// Negative survives repeated defaulting.
	none := RetrievalConfig{FallbackBuffer: -1}
	none.defaults()
	none.defaults()
	if none.FallbackBuffer != -1 {
		t.Fatalf("FallbackBuffer = %d, want -1", none.FallbackBuffer)
	}
}
