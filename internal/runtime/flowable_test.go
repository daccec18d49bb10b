package runtime

import (
	"strings"
	"testing"
	"time"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowable_UppercasePipeline(t *testing.T) {
	rt := newTestRuntime(t)

	var passthrough *Flowable[rune]
	passthrough = NewFlowable(NewActor(rt, WithName("passthrough")), func(items []rune) {
		passthrough.Emit(items...)
	})

	uppers := make([]*Flowable[rune], 4)
	stages := make([]Stage[rune], len(uppers))
	for i := range uppers {
		var f *Flowable[rune]
		f = NewFlowable(NewActor(rt), func(items []rune) {
			out := make([]rune, len(items))
			for j, r := range items {
				out[j] = unicode.ToUpper(r)
			}
			f.Emit(out...)
		})
		uppers[i] = f
		stages[i] = f
	}

	var sb strings.Builder
	result := make(chan string, 1)
	concat := NewFlowable(NewActor(rt, WithName("concatenate")), func(items []rune) {
		if len(items) == 0 {
			result <- sb.String()
			return
		}
		for _, r := range items {
			sb.WriteRune(r)
		}
	})

	passthrough.Targets(stages...)
	Link(uppers, Stage[rune](concat))

	const total = 50000
	want := make(map[rune]int)
	for i := 0; i < total; i++ {
		r := rune('a' + i%26)
		want[unicode.ToUpper(r)]++
		passthrough.Flow(r)
	}
	passthrough.Flow()

	var got string
	select {
	case got = <-result:
	case <-time.After(30 * time.Second):
		t.Fatal("pipeline did not terminate")
	}
	require.Len(t, got, total)
	assert.Equal(t, strings.ToUpper(got), got)

	counts := make(map[rune]int)
	for _, r := range got {
		counts[r]++
	}
	assert.Equal(t, want, counts)
}

func TestFlowable_SingleTargetForwardsInOrder(t *testing.T) {
	rt := newTestRuntime(t)

	var got []int
	done := make(chan struct{})
	sink := NewFlowable(NewActor(rt), func(items []int) {
		if len(items) == 0 {
			close(done)
			return
		}
		got = append(got, items...)
	})
	var source *Flowable[int]
	source = NewFlowable(NewActor(rt), func(items []int) { source.Emit(items...) }).Target(sink)

	for i := 0; i < 1000; i++ {
		source.Flow(i, i+1)
	}
	source.Flow()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("sink did not see the end of stream")
	}
	require.Len(t, got, 2000)
	for i := 0; i < 1000; i++ {
		require.Equal(t, []int{i, i + 1}, got[2*i:2*i+2])
	}
}
