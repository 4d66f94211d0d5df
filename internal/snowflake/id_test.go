package snowflake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimeToID(t *testing.T) {
	t.Run("round trips to the millisecond", func(t *testing.T) {
		require := require.New(t)
		ts := time.Date(2023, 4, 1, 12, 30, 15, 250*int(time.Millisecond), time.UTC)
		id := TimeToID(ts)
		require.True(ts.Equal(id.ToTime().UTC()))
	})
	t.Run("later times sort after earlier ones", func(t *testing.T) {
		require := require.New(t)
		a := TimeToID(time.Unix(1000, 0))
		b := TimeToID(time.Unix(1001, 0))
		require.Less(uint64(a), uint64(b))
	})
	t.Run("parse", func(t *testing.T) {
		require := require.New(t)
		id := Now()
		got, err := Parse(id.String())
		require.NoError(err)
		require.Equal(id, got)
	})
}
