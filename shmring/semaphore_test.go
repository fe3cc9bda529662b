/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package shmring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSemaphorePostThenWaitSucceeds(t *testing.T) {
	dir := t.TempDir()
	sem, err := createSemaphore(dir, "test-sem")
	require.NoError(t, err)
	defer sem.Unlink()

	require.NoError(t, sem.Post())
	require.NoError(t, sem.Wait(time.Now().Add(time.Second)))
}

func TestSemaphoreWaitTimesOutWithoutPost(t *testing.T) {
	dir := t.TempDir()
	sem, err := createSemaphore(dir, "test-sem-timeout")
	require.NoError(t, err)
	defer sem.Unlink()

	err = sem.Wait(time.Now().Add(50 * time.Millisecond))
	require.Error(t, err)
	require.True(t, isTimeout(err))
}

func TestOpenSemaphoreAttachesToExisting(t *testing.T) {
	dir := t.TempDir()
	creator, err := createSemaphore(dir, "test-sem-shared")
	require.NoError(t, err)
	defer creator.Unlink()

	opener, err := openSemaphore(dir, "test-sem-shared")
	require.NoError(t, err)
	defer opener.Close()

	require.NoError(t, creator.Post())
	require.NoError(t, opener.Wait(time.Now().Add(time.Second)))
}
