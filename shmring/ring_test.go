/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package shmring

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestProducerConsumerRoundTripsDataAndCRC runs a producer and
// consumer against the same ring in-process (standing in for the two
// real OS processes in production) and checks the consumer's output
// and CRC match what the producer sent.
func TestProducerConsumerRoundTripsDataAndCRC(t *testing.T) {
	dir := t.TempDir()
	blockSize := 64

	producer, err := Create(dir, blockSize, blockSize*4)
	require.NoError(t, err)
	consumer, err := Link(dir, producer.ControlName())
	require.NoError(t, err)

	require.NoError(t, consumer.SetConsumerSize(blockSize*4, blockSize))

	var wg sync.WaitGroup
	wg.Add(1)
	var allocErr error
	go func() {
		defer wg.Done()
		allocErr = producer.AllocateData()
	}()
	require.NoError(t, consumer.AttachData())
	wg.Wait()
	require.NoError(t, allocErr)

	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog"), 20)
	var out bytes.Buffer
	producerCRC := NewCRC()
	consumerCRC := NewCRC()

	wg.Add(2)
	var prodErr, consErr error
	go func() {
		defer wg.Done()
		prodErr = producer.FdToRing(bytes.NewReader(payload), producerCRC)
	}()
	go func() {
		defer wg.Done()
		consErr = consumer.RingToFd(&out, consumerCRC)
	}()
	wg.Wait()

	require.NoError(t, prodErr)
	require.NoError(t, consErr)
	require.Equal(t, payload, out.Bytes())
	require.Equal(t, producerCRC.Sum32(), consumerCRC.Sum32())

	require.NoError(t, consumer.CloseConsumer())
	require.NoError(t, producer.CloseProducer())
}

func TestNegotiateSizeIsSymmetricOnEqualRequests(t *testing.T) {
	require.Equal(t, NegotiateSize(4096, 512, 4096, 512), NegotiateSize(4096, 512, 4096, 512))
}
