package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key=secret , team=chain,  =dropped, malformed ")
	if len(headers) != 2 {
		t.Fatalf("headers = %v", headers)
	}
	if headers["api-key"] != "secret" || headers["team"] != "chain" {
		t.Fatalf("headers = %v", headers)
	}
	if len(ParseHeaders("")) != 0 {
		t.Fatal("empty input produced headers")
	}
}

func TestInitValidation(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatal("missing service name accepted")
	}

	// With both signals disabled no exporter is dialled and the shutdown hook
	// is a no-op.
	shutdown, err := Init(context.Background(), Config{ServiceName: "meridiand-test"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
