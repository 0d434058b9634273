package clickhouse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanshugvu/eventAdapter/internal/domain"
)

func TestEventRow_RoundTrip(t *testing.T) {
	sent := time.Now().Add(-3 * time.Second).UnixNano()
	event := domain.NewEvent(domain.Origin{Topic: "orders", Partition: 2, Offset: 9}, `{"a":1}`, time.Now())
	event.SendTimestampNs = &sent
	event.MessageID = "m-1"
	event.MarkPublished("out", 1, 100, time.Now())

	row := toRow(event, 7)
	assert.Equal(t, "SUCCESS", row.Status)
	assert.Equal(t, uint64(7), row.Version)

	back := row.toDomain()
	assert.Equal(t, event.ID, back.ID)
	assert.Equal(t, event.Status, back.Status)
	assert.Equal(t, event.MessageID, back.MessageID)
	require.NotNil(t, back.ExceededOneSecond)
	assert.True(t, *back.ExceededOneSecond)

	*row.DestinationOffset = 5
	assert.Equal(t, int64(100), *event.DestinationOffset)
}

func TestNextVersion(t *testing.T) {
	now := time.Unix(0, 1_000)

	assert.Equal(t, uint64(1_000), nextVersion(10, now))
	assert.Equal(t, uint64(1_001), nextVersion(1_000, now))
	assert.Equal(t, uint64(5_001), nextVersion(5_000, now))
}
