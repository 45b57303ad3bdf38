package redis

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_UnreachableServer(t *testing.T) {
	// grab a free port, then close it so nothing listens there
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, err = NewClient(context.Background(), Config{
		Host:         "127.0.0.1",
		Port:         port,
		DialTimeout:  100 * time.Millisecond,
		ConnectTries: 1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to redis at 127.0.0.1:"+port)
}
