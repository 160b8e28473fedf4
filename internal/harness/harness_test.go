package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gunrelay/internal/schema"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestScenariosPass(t *testing.T) {
	names := []string{
		"put_fanout",
		"get_missing",
		"thing_update",
		"rejected_title",
		"unauthenticated_get",
		"ham_historical",
		"thing_refs",
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			result, err := Run(loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestPutFanoutGolden(t *testing.T) {
	result, err := RunWithGolden(t, loadTestScenario(t, "put_fanout"))
	require.NoError(t, err)
	assert.Len(t, result.Trace, 5)
}

func TestTraceIncludesInboundTraffic(t *testing.T) {
	result, err := Run(loadTestScenario(t, "get_missing"))
	require.NoError(t, err)

	require.Len(t, result.Trace, 3)
	assert.Equal(t, 1, result.Trace[0].Seq)
	assert.Equal(t, "gun/get/validated", result.Trace[0].Channel)
	assert.Equal(t, "gun/get/missing", result.Trace[1].Channel)
	assert.Equal(t, "gun/@g1", result.Trace[2].Channel)
	assert.Nil(t, result.Trace[2].Message.Put)
}

func TestThingRefsUseContentAddressedIDs(t *testing.T) {
	result, err := Run(loadTestScenario(t, "thing_refs"))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	want, err := schema.ComputeThingID(schema.ThingFields{
		Kind:      "submission",
		Topic:     "test",
		AuthorID:  "alice",
		Timestamp: 1700000000000,
		Title:     "Hello",
		Body:      "world",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"hello": want}, result.Things)

	root, _ := schema.ThingSoul(want)
	dataSoul, _ := schema.ThingDataSoul(want)
	require.Equal(t, root, result.Trace[0].Message.Get.Soul)

	replies := result.Published("gun/@g1")
	require.Len(t, replies, 1)
	link, ok := replies[0].Message.Put[root].LinkSoul("data")
	require.True(t, ok)
	assert.Equal(t, dataSoul, link)
	assert.Len(t, result.Published("gun/nodes/"+dataSoul), 1)
}

func TestRefsLeftUnexpandedWithoutThings(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: literal_braces
description: braces are only refs when a thing declares them
flow:
  - id: g1
    get: "{nobody}"
assertions:
  - type: published_count
    channel: gun/get/missing
    count: 1
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "{nobody}", result.Trace[0].Message.Get.Soul)
	assert.Nil(t, result.Things)
}

func TestRejectPolicy(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: reject_all
description: every write is refused
policy: reject
flow:
  - id: p1
    put:
      A: {x: 1}
assertions:
  - type: final_state
    soul: A
    absent: true
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Len(t, result.Trace, 1, "only the inbound put")
}

func TestNullNodesAreDropped(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: null_nodes
description: a put of only null nodes is dropped without a reply
policy: none
flow:
  - id: p1
    put:
      A: null
assertions:
  - type: published_count
    channel: gun/@p1
    count: 0
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestFailingAssertionsAreReported(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong_expectations
description: every assertion here is false
policy: none
flow:
  - id: p1
    put:
      A: {x: 1}
assertions:
  - type: published_count
    channel: gun/@p1
    count: 2
  - type: published
    channel: gun/nodes/A
    message: {"#": nope}
  - type: published_order
    channels: [gun/@p1, gun/put/diff]
  - type: final_state
    soul: A
    expect: {x: 2}
  - type: final_state
    soul: A
    absent: true
  - type: final_state
    soul: B
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 6)
	assert.Contains(t, result.Errors[0], "Assertion failed: published_count")
	assert.Contains(t, result.Errors[0], "[1] gun/put/validated #p1")
	assert.Contains(t, result.Errors[2], "order broke at gun/put/diff")
	assert.Contains(t, result.Errors[3], "A.x = 2")
	assert.Contains(t, result.Errors[5], "absent")
}
