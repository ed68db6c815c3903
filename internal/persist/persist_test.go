package persist

import "testing"

func TestQueryBuilderSkipsEmptyFilters(t *testing.T) {
	q := NewQueryBuilder().Eq("event_type", "").Eq("actor", "agent:5")
	sql, params := q.Build("SELECT * FROM audit_events", "ts DESC", 50)

	if want := "SELECT * FROM audit_events WHERE actor = $1 ORDER BY ts DESC LIMIT $2"; sql != want {
		t.Fatalf("sql = %q, want %q", sql, want)
	}
	if len(params) != 2 || params[0] != "agent:5" || params[1] != 50 {
		t.Fatalf("params = %v", params)
	}
}

func TestQueryBuilderClampsLimit(t *testing.T) {
	q := NewQueryBuilder()
	_, params := q.Build("SELECT * FROM audit_events", "", 0)
	if params[0] != 100 {
		t.Fatalf("expected default limit 100, got %v", params[0])
	}

	q2 := NewQueryBuilder()
	_, params2 := q2.Build("SELECT * FROM audit_events", "", 5000)
	if params2[0] != 2000 {
		t.Fatalf("expected clamp to 2000 for an out-of-range limit, got %v", params2[0])
	}
}

func TestQueryBuilderLikeEscapesWildcards(t *testing.T) {
	q := NewQueryBuilder().Like("target", "50%_off")
	sql, params := q.Build("SELECT * FROM audit_events", "", 10)

	if want := "SELECT * FROM audit_events WHERE target LIKE $1 ESCAPE '\\' LIMIT $2"; sql != want {
		t.Fatalf("sql = %q, want %q", sql, want)
	}
	if params[0] != `%50\%\_off%` {
		t.Fatalf("params[0] = %v, want escaped LIKE pattern", params[0])
	}
}

func TestMarshalExtraNilFallback(t *testing.T) {
	if got := string(marshalExtra(nil)); got != "{}" {
		t.Fatalf("marshalExtra(nil) = %q, want {}", got)
	}
}
