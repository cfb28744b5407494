package metrics

import (
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
)

// A metrics listen failure must not take the daemon down.
func TestStartServerSurvivesListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	_, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}

	StartServer(port, zap.NewNop())
	// Give the server goroutine time to hit the occupied port; a panic there
	// would abort the test binary.
	time.Sleep(50 * time.Millisecond)
}
