package engines

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/visiscope/visiscope/pkg/mentions"
)

func TestClassify(t *testing.T) {
	q := Query{
		Question:    "What is the best CRM for small agencies?",
		Brand:       "Acme",
		Domain:      "https://www.acme.io/",
		Competitors: []string{"Globex", "Initech", "Umbrella"},
	}

	tests := []struct {
		name        string
		answer      string
		bucket      mentions.Bucket
		mentioned   bool
		sentiment   mentions.Sentiment
		competitors []string
	}{
		{
			name:        "first sentence",
			answer:      "Acme is the best choice for most agencies. Globex is a reasonable alternative.",
			bucket:      mentions.TopAnswer,
			mentioned:   true,
			sentiment:   mentions.Positive,
			competitors: []string{"Globex"},
		},
		{
			name:        "first list item",
			answer:      "Here are some options:\n1. Acme - trusted by thousands\n2. Initech\n3. Globex",
			bucket:      mentions.TopAnswer,
			mentioned:   true,
			sentiment:   mentions.Positive,
			competitors: []string{"Globex", "Initech"},
		},
		{
			name:        "later in list",
			answer:      "Options:\n- Globex\n- Acme, though users report complaints about support",
			bucket:      mentions.Mentioned,
			mentioned:   true,
			sentiment:   mentions.Negative,
			competitors: []string{"Globex"},
		},
		{
			name:        "domain only",
			answer:      "Globex leads the market. Sources: g2.com, acme.io/blog",
			bucket:      mentions.Cited,
			mentioned:   true,
			sentiment:   mentions.Neutral,
			competitors: []string{"Globex"},
		},
		{
			name:      "substring is not a mention",
			answer:    "Try Acmeware or Umbrellas Inc.",
			bucket:    mentions.NotFound,
			sentiment: mentions.Neutral,
		},
		{
			name:      "empty answer",
			answer:    "",
			bucket:    mentions.NotFound,
			sentiment: mentions.Neutral,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("test", tt.answer, q)
			if got.Bucket != tt.bucket {
				t.Fatalf("bucket = %s, want %s", got.Bucket, tt.bucket)
			}
			if got.IsMentioned != tt.mentioned {
				t.Fatalf("is_mentioned = %v, want %v", got.IsMentioned, tt.mentioned)
			}
			if got.Sentiment != tt.sentiment {
				t.Fatalf("sentiment = %s, want %s", got.Sentiment, tt.sentiment)
			}
			if !reflect.DeepEqual(got.CompetitorsMentioned, tt.competitors) {
				t.Fatalf("competitors = %v, want %v", got.CompetitorsMentioned, tt.competitors)
			}
			if got.RawResponse != tt.answer || got.Engine != "test" {
				t.Fatalf("engine/raw response not carried through: %+v", got)
			}
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	q := Query{Brand: "Acme", Competitors: []string{"Globex"}}
	answer := "Acme and Globex are both fine."
	a := Classify("x", answer, q)
	b := Classify("x", answer, q)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("Classify is not deterministic: %+v vs %+v", a, b)
	}
}

func TestIndexTerm(t *testing.T) {
	tests := []struct {
		text, term string
		want       int
	}{
		{"acme corp", "acme", 0},
		{"go acme!", "acme", 3},
		{"acmeware acme", "acme", 9},
		{"c++ and go", "c++", 0},
		{"anything", "", -1},
		{"café acme", "acme", 6},
	}
	for _, tt := range tests {
		if got := indexTerm(tt.text, tt.term); got != tt.want {
			t.Errorf("indexTerm(%q, %q) = %d, want %d", tt.text, tt.term, got, tt.want)
		}
	}
}

func chatServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[1].Content != "best crm?" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
}

func TestOpenAIAsk(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"  Acme is great.  "}}]}`)
	defer srv.Close()

	e, err := NewOpenAI(Config{Name: "gpt", Endpoint: srv.URL, APIKey: "sk-test", Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	got, err := e.Ask(context.Background(), "best crm?")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Acme is great." {
		t.Fatalf("answer = %q", got)
	}
}

func TestOpenAIAskErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"api error", http.StatusBadRequest, `{"error":{"message":"model not found"}}`, "model not found"},
		{"bare status", http.StatusUnauthorized, `nope`, "HTTP 401"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "empty response"},
		{"not json", http.StatusOK, `<html>`, "not valid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := chatServer(t, tt.status, tt.body)
			defer srv.Close()

			e, err := NewOpenAI(Config{Endpoint: srv.URL, APIKey: "sk-test", Timeout: time.Second})
			if err != nil {
				t.Fatal(err)
			}
			_, err = e.Ask(context.Background(), "best crm?")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	if _, err := NewOpenAI(Config{Name: "gpt"}); err == nil {
		t.Fatalf("expected an error without an API key")
	}
}

type stubEngine struct {
	name   string
	answer string
	err    error
	delay  time.Duration
}

func (s stubEngine) Name() string { return s.name }

func (s stubEngine) Ask(ctx context.Context, question string) (string, error) {
	time.Sleep(s.delay)
	return s.answer, s.err
}

func TestCheckAbsorbsEngineErrors(t *testing.T) {
	res := Check(context.Background(), stubEngine{name: "down", err: errors.New("timeout")}, Query{Brand: "Acme"})
	if res.Error != "timeout" || res.Bucket != mentions.NotFound || res.IsMentioned {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCheckAllKeepsInvocationOrder(t *testing.T) {
	q := Query{Question: "q", Brand: "Acme"}
	engines := []Engine{
		stubEngine{name: "slow", answer: "Others exist. Acme too.", delay: 30 * time.Millisecond},
		stubEngine{name: "fast", answer: "Acme is top."},
		stubEngine{name: "broken", err: errors.New("boom")},
	}

	results := CheckAll(context.Background(), engines, q)
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	for i, want := range []string{"slow", "fast", "broken"} {
		if results[i].Engine != want {
			t.Fatalf("result %d engine = %s, want %s", i, results[i].Engine, want)
		}
	}

	agg, err := mentions.Aggregate(q.Question, results)
	if err != nil {
		t.Fatal(err)
	}
	if agg.BestResult.Engine != "fast" || !agg.AnyMentioned {
		t.Fatalf("aggregate = %+v", agg)
	}
}
