package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/vendorsync/internal/infrastructure/config"
	"github.com/nerrad567/vendorsync/internal/infrastructure/influxdb"
)

// fakeInflux serves the three endpoints the client touches.
type fakeInflux struct {
	mu        sync.Mutex
	writes    []string
	queries   []string
	csv       string
	writeCode int
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.writes = append(f.writes, string(body))
		code := f.writeCode
		f.mu.Unlock()
		if code == 0 {
			code = http.StatusNoContent
		}
		if code != http.StatusNoContent {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"code":"invalid","message":"rejected"}`))
			return
		}
		w.WriteHeader(code)
	case "/api/v2/query":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.queries = append(f.queries, string(body))
		csv := f.csv
		f.mu.Unlock()
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		_, _ = w.Write([]byte(csv))
	default:
		http.NotFound(w, r)
	}
}

func connectFake(t *testing.T, f *fakeInflux) *influxdb.Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	client, err := influxdb.Connect(config.InfluxDBConfig{
		URL:    srv.URL,
		Token:  "test-token",
		Org:    "energy",
		Bucket: "measurements",
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestConnect(t *testing.T) {
	client := connectFake(t, &fakeInflux{})

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if client.Bucket() != "measurements" {
		t.Errorf("Bucket() = %q, want measurements", client.Bucket())
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_NotConfigured(t *testing.T) {
	_, err := influxdb.Connect(config.InfluxDBConfig{URL: "http://127.0.0.1:8086"})
	if !errors.Is(err, influxdb.ErrNotConfigured) {
		t.Errorf("Connect() error = %v, want ErrNotConfigured", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := influxdb.Connect(config.InfluxDBConfig{URL: "http://127.0.0.1:59999", Bucket: "b"})
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWritePoint(t *testing.T) {
	f := &fakeInflux{}
	client := connectFake(t, f)

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	err := client.WritePoint(context.Background(), "device_parameters",
		map[string]string{"dp": "7", "type": "201", "trigger": "OD"},
		map[string]any{"value": 21.5, "decimal": "21.5"},
		ts)
	if err != nil {
		t.Fatalf("WritePoint() error = %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(f.writes))
	}
	line := f.writes[0]
	for _, want := range []string{"device_parameters,", "dp=7", "trigger=OD", `decimal="21.5"`, "value=21.5"} {
		if !strings.Contains(line, want) {
			t.Errorf("line protocol %q missing %q", line, want)
		}
	}
}

func TestWritePoint_Rejected(t *testing.T) {
	f := &fakeInflux{writeCode: http.StatusBadRequest}
	client := connectFake(t, f)

	err := client.WritePoint(context.Background(), "m", map[string]string{"a": "b"},
		map[string]any{"value": 1.0}, time.Now())
	if !errors.Is(err, influxdb.ErrWriteFailed) {
		t.Errorf("WritePoint() error = %v, want ErrWriteFailed", err)
	}
}

const twoRows = "#datatype,string,long,dateTime:RFC3339,string,string,string,string\n" +
	"#group,false,false,false,false,true,true,true\n" +
	"#default,_result,,,,,,\n" +
	",result,table,_time,_value,_field,_measurement,dp\n" +
	",,0,2026-03-01T10:05:00Z,22,decimal,device_parameters,7\n" +
	",,0,2026-03-01T10:00:00Z,21.5,decimal,device_parameters,7\n" +
	"\n"

func TestQuery(t *testing.T) {
	f := &fakeInflux{csv: twoRows}
	client := connectFake(t, f)

	var got []influxdb.Record
	for rec, err := range client.Query(context.Background(), `from(bucket: "measurements")`) {
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		got = append(got, rec)
	}

	if len(got) != 2 {
		t.Fatalf("records = %d, want 2", len(got))
	}
	if got[0].Value != "22" || got[1].Value != "21.5" {
		t.Errorf("values = %v, %v; want 22, 21.5", got[0].Value, got[1].Value)
	}
	if !got[0].Time.Equal(time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)) {
		t.Errorf("first time = %v", got[0].Time)
	}
	if got[0].Values["dp"] != "7" {
		t.Errorf("dp tag = %v, want 7", got[0].Values["dp"])
	}
}

func TestQuery_Restartable(t *testing.T) {
	f := &fakeInflux{csv: twoRows}
	client := connectFake(t, f)

	seq := client.Query(context.Background(), `from(bucket: "measurements")`)
	for range 2 {
		n := 0
		for _, err := range seq {
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			n++
			break
		}
		if n != 1 {
			t.Fatalf("early break yielded %d records, want 1", n)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) != 2 {
		t.Errorf("queries issued = %d, want 2", len(f.queries))
	}
}

func TestClosedClient(t *testing.T) {
	client := connectFake(t, &fakeInflux{})
	client.Close()

	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.WritePoint(context.Background(), "m", nil, map[string]any{"v": 1.0}, time.Now()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("WritePoint() error = %v, want ErrNotConnected", err)
	}
	for _, err := range client.Query(context.Background(), "x") {
		if !errors.Is(err, influxdb.ErrNotConnected) {
			t.Errorf("Query() error = %v, want ErrNotConnected", err)
		}
	}
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}
