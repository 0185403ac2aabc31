package storage

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEncode(t *testing.T, k Key) []byte {
	t.Helper()
	b, err := EncodeKey(k)
	require.NoError(t, err)
	return b
}

func TestEncodeKey_PreservesOrder(t *testing.T) {
	ordered := []Key{
		{Col("a", BigIntValue(-100)), Col("b", TextValue(""))},
		{Col("a", BigIntValue(-1)), Col("b", TextValue("zzz"))},
		{Col("a", BigIntValue(0)), Col("b", TextValue("a"))},
		{Col("a", BigIntValue(0)), Col("b", TextValue("a\x00"))},
		{Col("a", BigIntValue(0)), Col("b", TextValue("abcdefgh"))},
		{Col("a", BigIntValue(0)), Col("b", TextValue("abcdefghi"))},
		{Col("a", BigIntValue(7)), Col("b", TextValue("a"))},
	}
	for i := 1; i < len(ordered); i++ {
		prev, cur := mustEncode(t, ordered[i-1]), mustEncode(t, ordered[i])
		assert.Equal(t, -1, bytes.Compare(prev, cur), "%v should sort before %v", ordered[i-1], ordered[i])
	}

	floats := []float64{-3.5, -0.25, 0, 0.5, 12}
	for i := 1; i < len(floats); i++ {
		prev := mustEncode(t, Key{Col("f", DoubleValue(floats[i-1]))})
		cur := mustEncode(t, Key{Col("f", DoubleValue(floats[i]))})
		assert.Equal(t, -1, bytes.Compare(prev, cur))
	}
}

func TestEncodeKey_PrefixIsBytePrefix(t *testing.T) {
	full := mustEncode(t, Key{Col("a", TextValue("hello")), Col("b", IntValue(3))})
	prefix := mustEncode(t, Key{Col("a", TextValue("hello"))})
	assert.True(t, bytes.HasPrefix(full, prefix))
}

func TestEncodeKey_RejectsNull(t *testing.T) {
	_, err := EncodeKey(Key{Col("a", NullValue(TypeText))})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIllegalArgument))
}

func TestPrefixNext(t *testing.T) {
	assert.Equal(t, []byte{1, 3}, PrefixNext([]byte{1, 2}))
	assert.Equal(t, []byte{2}, PrefixNext([]byte{1, 0xFF}))
	assert.Nil(t, PrefixNext([]byte{0xFF, 0xFF}))
}

func TestCondition_Check(t *testing.T) {
	row := Columns{"v": BigIntValue(3), "id": TextValue("tx1"), "n": NullValue(TypeText)}

	assert.True(t, PutIfNotExists().Check(nil))
	assert.False(t, PutIfNotExists().Check(row))
	assert.True(t, PutIfExists().Check(row))
	assert.False(t, DeleteIfExists().Check(nil))

	assert.True(t, PutIf(Eq("v", BigIntValue(3)), Eq("id", TextValue("tx1"))).Check(row))
	assert.False(t, PutIf(Eq("v", BigIntValue(4))).Check(row))
	assert.False(t, PutIf(Eq("v", BigIntValue(3))).Check(nil))
	assert.True(t, PutIf(IsNull("n"), IsNull("missing"), IsNotNull("id")).Check(row))
	assert.True(t, DeleteIf(Ne("id", TextValue("tx2"))).Check(row))

	var unconditional *Condition
	assert.True(t, unconditional.Check(nil))
}

func TestApplyPut(t *testing.T) {
	md := &TableMetadata{
		PartitionKeys: []string{"p"},
		Columns:       map[string]DataType{"p": TypeText, "a": TypeInt, "b": TypeInt},
	}
	existing := Columns{"p": TextValue("k"), "a": IntValue(1), "b": IntValue(2)}

	row, err := ApplyPut(md, existing, &Put{Partition: Key{Col("p", TextValue("k"))}, Values: Columns{"a": IntValue(10)}})
	require.NoError(t, err)
	assert.Equal(t, IntValue(10), row["a"])
	assert.Equal(t, IntValue(2), row["b"], "unspecified columns must be kept")
	assert.Equal(t, IntValue(1), existing["a"], "the stored row must not be modified in place")

	_, err = ApplyPut(md, existing, &Put{Partition: Key{Col("p", TextValue("k"))}, Condition: PutIfNotExists()})
	assert.True(t, errors.Is(err, ErrNoMutation))

	_, err = ApplyPut(md, nil, &Put{Partition: Key{Col("p", TextValue("k"))}, Values: Columns{"zzz": IntValue(1)}})
	assert.True(t, errors.Is(err, ErrIllegalArgument))

	_, err = ApplyPut(md, nil, &Put{Partition: Key{Col("p", TextValue("k"))}, Condition: DeleteIfExists()})
	assert.True(t, errors.Is(err, ErrIllegalArgument))
}

func TestScanRange_ClusteringBounds(t *testing.T) {
	p := Key{Col("p", TextValue("a"))}
	s := &Scan{
		Partition: p,
		Start:     &Bound{Key: Key{Col("c", IntValue(1))}, Inclusive: false},
		End:       &Bound{Key: Key{Col("c", IntValue(3))}, Inclusive: true},
	}
	start, end, err := ScanRange(s)
	require.NoError(t, err)

	enc := func(c int32) []byte {
		k, err := EncodeRecordKey(p, Key{Col("c", IntValue(c))})
		require.NoError(t, err)
		return k
	}
	in := func(k []byte) bool { return bytes.Compare(k, start) >= 0 && bytes.Compare(k, end) < 0 }
	assert.False(t, in(enc(1)))
	assert.True(t, in(enc(2)))
	assert.True(t, in(enc(3)))
	assert.False(t, in(enc(4)))
}

func TestFinish_OrderingAndLimit(t *testing.T) {
	records := []*Record{
		{Values: Columns{"c": IntValue(1), "x": IntValue(10)}},
		{Values: Columns{"c": IntValue(2), "x": IntValue(20)}},
		{Values: Columns{"c": IntValue(3), "x": IntValue(30)}},
	}
	out := Finish(&Scan{Ordering: Desc, Limit: 2, Projections: []string{"c"}}, records)
	require.Len(t, out, 2)
	assert.Equal(t, IntValue(3), out[0].Values["c"])
	assert.Equal(t, IntValue(2), out[1].Values["c"])
	_, ok := out[0].Values["x"]
	assert.False(t, ok)
}
