package memory

import (
	"testing"

	"github.com/anatolio-deb/joinbot/internal/ledger"
	"github.com/anatolio-deb/joinbot/internal/request"
	"github.com/anatolio-deb/joinbot/internal/store/storetest"
)

func TestLedgerStore(t *testing.T) {
	storetest.RunLedgerSuite(t, func(*testing.T) ledger.Store { return NewLedgerStore() })
}

func TestRequestStore(t *testing.T) {
	storetest.RunRequestSuite(t, func(*testing.T) request.Store { return NewRequestStore() })
}
