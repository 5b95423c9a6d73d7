package xd2031

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFactory() *ProviderFactory {
	f := &ProviderFactory{registry: make(map[string]NewProviderFunc)}
	f.registry["fake"] = func() Provider { return &fakeProvider{name: "fake"} }
	return f
}

func TestDriveTableAssignProviderPath(t *testing.T) {
	dt := NewDriveTable(newTestFactory())
	pn := ParsedName{Drive: 0, Name: "fake=/tmp/disk"}
	status := dt.Assign(pn)
	require.Equal(t, ErrOK, status)
	ep := dt.Get(0)
	require.NotNil(t, ep)
	assert.Equal(t, "/tmp/disk", ep.Base)
	assert.True(t, ep.IsAssigned)
}

func TestDriveTableAssignChildDerivesFromParent(t *testing.T) {
	dt := NewDriveTable(newTestFactory())
	require.Equal(t, ErrOK, dt.Assign(ParsedName{Drive: 0, Name: "fake=/tmp/disk"}))

	status := dt.Assign(ParsedName{Drive: 1, Name: "=0/sub"})
	require.Equal(t, ErrOK, status)
	ep := dt.Get(1)
	require.NotNil(t, ep)
	assert.Equal(t, "/tmp/disk/sub", ep.Base)
}

func TestDriveTableAssignUnknownParentFails(t *testing.T) {
	dt := NewDriveTable(newTestFactory())
	status := dt.Assign(ParsedName{Drive: 1, Name: "=5/sub"})
	assert.Equal(t, ErrFileNotFound, status)
}

func TestDriveTableAssignMissingDriveIsSyntaxError(t *testing.T) {
	dt := NewDriveTable(newTestFactory())
	status := dt.Assign(ParsedName{Drive: DriveAny, Name: "fake=/tmp"})
	assert.Equal(t, ErrSyntaxUnknown, status)
}
