package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleaner_DeletesEveryObjectOnce(t *testing.T) {
	objects := newFakeObjects("tmp/a.fits", "tmp/b.fits", "tmp/c.fits")
	c := NewCleaner(objects, testLogger())

	failed := c.Run(context.Background(), "job-1", []string{"tmp/a.fits", "tmp/b.fits", "tmp/c.fits"})
	assert.Empty(t, failed)

	for _, path := range []string{"tmp/a.fits", "tmp/b.fits", "tmp/c.fits"} {
		assert.Equal(t, 1, objects.deleteAttempts(path))
	}
}

func TestCleaner_OneFailureDoesNotStopTheRest(t *testing.T) {
	objects := newFakeObjects("tmp/a.fits", "tmp/b.fits", "tmp/c.fits")
	objects.failDeletes["tmp/b.fits"] = true
	c := NewCleaner(objects, testLogger())

	failed := c.Run(context.Background(), "job-1", []string{"tmp/a.fits", "tmp/b.fits", "tmp/c.fits"})
	assert.Equal(t, []string{"tmp/b.fits"}, failed)

	assert.Equal(t, 1, objects.deleteAttempts("tmp/a.fits"))
	assert.Equal(t, 1, objects.deleteAttempts("tmp/b.fits"))
	assert.Equal(t, 1, objects.deleteAttempts("tmp/c.fits"))
}

func TestCleaner_EmptyListIsNoop(t *testing.T) {
	objects := newFakeObjects()
	c := NewCleaner(objects, testLogger())

	assert.Nil(t, c.Run(context.Background(), "job-1", nil))
}
