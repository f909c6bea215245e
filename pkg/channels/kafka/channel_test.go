package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBrokers(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{raw: "", want: nil},
		{raw: "localhost:9092", want: []string{"localhost:9092"}},
		{raw: "a:9092, b:9092,,", want: []string{"a:9092", "b:9092"}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseBrokers(tt.raw))
		})
	}
}

func TestSaramaConfigs(t *testing.T) {
	subscriber, publisher := SaramaConfigs()

	assert.Equal(t, sarama.OffsetOldest, subscriber.Consumer.Offsets.Initial)
	assert.True(t, publisher.Producer.Return.Successes)
	assert.Equal(t, sarama.WaitForAll, publisher.Producer.RequiredAcks)
}

func TestCreateChannel_NoBrokers(t *testing.T) {
	_, _, err := CreateChannel(watermill.NopLogger{}, nil, "automation")
	require.ErrorIs(t, err, ErrNoBrokers)
}
