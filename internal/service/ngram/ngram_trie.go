package ngram

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"
)

// contextStats summarises the continuations of one context under one
// counting scheme (raw occurrence counts or Kneser-Ney counts).
type contextStats struct {
	total int64    // sum of continuation counts
	types int64    // number of continuations with a non-zero count
	n     [4]int64 // n[1], n[2]: continuations seen once/twice; n[3]: three or more
}

func (s *contextStats) add(c int64) {
	if c <= 0 {
		return
	}
	s.total += c
	s.types++
	s.n[countClass(c)]++
}

func countClass(c int64) int {
	if c >= 3 {
		return 3
	}
	return int(c)
}

// TrieNode is one n-gram in the count trie. The path from the root spells
// the n-gram; the node's children are the tokens observed after it.
type TrieNode struct {
	count    int64
	cont     int64 // distinct left extensions N1+(. g), set by Freeze
	children map[TokenID]*TrieNode
	raw      contextStats
	kn       contextStats
}

func newTrieNode() *TrieNode {
	return &TrieNode{}
}

func (n *TrieNode) child(id TokenID) *TrieNode {
	if n == nil || n.children == nil {
		return nil
	}
	return n.children[id]
}

func (n *TrieNode) sortedChildIDs() []TokenID {
	ids := make([]TokenID, 0, len(n.children))
	for id := range n.children {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CountStore accumulates n-gram counts up to a maximum order. It is
// append-only until Freeze and read-only afterwards, so a frozen store may
// be shared by concurrent readers without locking.
type CountStore struct {
	order       int
	root        *TrieNode
	totalTokens int64 // predicted positions (order-1 total)
	sentences   int64
	nodes       []int64    // counted n-grams per length, index 1..order
	rawCounts   [][5]int64 // per depth: count-of-counts n1..n4 over raw counts
	knCounts    [][5]int64 // per depth: count-of-counts n1..n4 over Kneser-Ney counts
	bloomFilter *bloom.BloomFilter
	frozen      bool
}

// CountStoreOptions tunes the optional Bloom prefilter.
type CountStoreOptions struct {
	UseBloom          bool
	ExpectedItems     uint
	FalsePositiveRate float64
}

// DefaultCountStoreOptions mirrors the sizing used for corpus-wide models.
func DefaultCountStoreOptions() CountStoreOptions {
	return CountStoreOptions{UseBloom: true, ExpectedItems: 100000, FalsePositiveRate: 0.01}
}

// NewCountStore creates an empty store for n-grams of length 1..order.
func NewCountStore(order int, opts CountStoreOptions) *CountStore {
	s := &CountStore{
		order:     order,
		root:      newTrieNode(),
		nodes:     make([]int64, order+1),
		rawCounts: make([][5]int64, order+1),
		knCounts:  make([][5]int64, order+1),
	}
	if opts.UseBloom {
		if opts.ExpectedItems == 0 {
			opts.ExpectedItems = 100000
		}
		if opts.FalsePositiveRate <= 0 || opts.FalsePositiveRate >= 1 {
			opts.FalsePositiveRate = 0.01
		}
		s.bloomFilter = bloom.NewWithEstimates(opts.ExpectedItems, opts.FalsePositiveRate)
	}
	return s
}

// Order returns the maximum n-gram length.
func (s *CountStore) Order() int {
	return s.order
}

// Accumulate counts one training line. The sentence is padded with <s> and
// </s>; for every predicted position every window of length 1..order ending
// there is counted. Windows never cross into another call.
func (s *CountStore) Accumulate(sentence []TokenID) error {
	if s.frozen {
		return ErrFrozen
	}
	padded := padSentence(sentence)
	var key []byte
	for i := 1; i < len(padded); i++ {
		s.totalTokens++
		maxK := s.order
		if i+1 < maxK {
			maxK = i + 1
		}
		// Walk each window from its first token so the trie stays in
		// natural (context-first) order.
		for k := 1; k <= maxK; k++ {
			window := padded[i-k+1 : i+1]
			node := s.root
			for depth, id := range window {
				next := node.child(id)
				if next == nil {
					if node.children == nil {
						node.children = make(map[TokenID]*TrieNode)
					}
					next = newTrieNode()
					node.children[id] = next
					// Context-only prefixes such as [<s>] must pass the
					// filter too.
					if s.bloomFilter != nil {
						key = appendKey(key[:0], window[:depth+1])
						s.bloomFilter.Add(key)
					}
				}
				node = next
			}
			node.count++
			if node.count == 1 {
				s.nodes[k]++
			}
		}
	}
	s.sentences++
	return nil
}

func padSentence(sentence []TokenID) []TokenID {
	padded := make([]TokenID, 0, len(sentence)+2)
	padded = append(padded, BOSID)
	padded = append(padded, sentence...)
	return append(padded, EOSID)
}

func appendKey(dst []byte, ids []TokenID) []byte {
	for _, id := range ids {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(id))
	}
	return dst
}

// Freeze computes the per-context statistics smoothing needs and makes the
// store read-only. Calling Freeze twice is a no-op.
func (s *CountStore) Freeze() {
	if s.frozen {
		return
	}
	s.computeContinuations(s.root, make([]TokenID, 0, s.order))
	s.computeContextStats(s.root, make([]TokenID, 0, s.order))
	s.frozen = true
}

// computeContinuations sets cont on every suffix: each n-gram v+g adds one
// distinct left extension to g.
func (s *CountStore) computeContinuations(node *TrieNode, path []TokenID) {
	if len(path) >= 2 && node.count > 0 {
		if suffix := s.lookup(path[1:]); suffix != nil {
			suffix.cont++
		}
	}
	for id, child := range node.children {
		s.computeContinuations(child, append(path, id))
	}
}

func (s *CountStore) computeContextStats(node *TrieNode, path []TokenID) {
	depth := len(path) + 1
	for id, child := range node.children {
		childPath := append(path, id)
		eff := s.knCount(child, childPath)
		node.raw.add(child.count)
		node.kn.add(eff)
		tallyCount(&s.rawCounts[depth], child.count)
		tallyCount(&s.knCounts[depth], eff)
		s.computeContextStats(child, childPath)
	}
}

func tallyCount(counts *[5]int64, c int64) {
	if c <= 0 {
		return
	}
	if c > 4 {
		c = 4
	}
	counts[c]++
}

// knCount is the count Kneser-Ney smoothing uses for an n-gram: the raw
// count at the top order or for n-grams anchored at <s> (they have no left
// extension), the continuation count otherwise.
func (s *CountStore) knCount(node *TrieNode, path []TokenID) int64 {
	if len(path) == s.order || (len(path) > 0 && path[0] == BOSID) {
		return node.count
	}
	return node.cont
}

// Frozen reports whether Freeze has been called.
func (s *CountStore) Frozen() bool {
	return s.frozen
}

func (s *CountStore) lookup(key []TokenID) *TrieNode {
	node := s.root
	for _, id := range key {
		node = node.child(id)
		if node == nil {
			return nil
		}
	}
	return node
}

// find is lookup behind the Bloom prefilter. Every trie node's key is added
// when the node is created, so a filter miss proves absence.
func (s *CountStore) find(key []TokenID) *TrieNode {
	if !s.mightContain(key) {
		return nil
	}
	return s.lookup(key)
}

// mightContain consults the Bloom filter. Without a filter every key might
// be present.
func (s *CountStore) mightContain(key []TokenID) bool {
	if s.bloomFilter == nil || len(key) == 0 {
		return true
	}
	var buf [64]byte
	return s.bloomFilter.Test(appendKey(buf[:0], key))
}

// CountOf returns the number of times key was counted.
func (s *CountStore) CountOf(key []TokenID) int64 {
	if len(key) == 0 || len(key) > s.order || !s.mightContain(key) {
		return 0
	}
	if node := s.lookup(key); node != nil {
		return node.count
	}
	return 0
}

// ContinuationCountOf returns the number of distinct tokens observed
// directly before key. Only meaningful after Freeze.
func (s *CountStore) ContinuationCountOf(key []TokenID) int64 {
	if node := s.lookup(key); node != nil {
		return node.cont
	}
	return 0
}

// TotalOrder1Count returns the number of predicted positions, the
// normaliser of the unigram distribution.
func (s *CountStore) TotalOrder1Count() int64 {
	return s.totalTokens
}

// Sentences returns the number of accumulated lines.
func (s *CountStore) Sentences() int64 {
	return s.sentences
}

// ChildCount is one continuation of a context.
type ChildCount struct {
	ID    TokenID
	Count int64
}

// Children lists the tokens observed after context in ascending ID order.
func (s *CountStore) Children(context []TokenID) []ChildCount {
	node := s.root
	if len(context) > 0 {
		if !s.mightContain(context) {
			return nil
		}
		node = s.lookup(context)
	}
	if node == nil {
		return nil
	}
	out := make([]ChildCount, 0, len(node.children))
	for _, id := range node.sortedChildIDs() {
		out = append(out, ChildCount{ID: id, Count: node.children[id].count})
	}
	return out
}

// CountOfCounts returns n_c (c = 1..4, 4 meaning four or more) for n-grams
// of the given length, over Kneser-Ney counts when continuation is set and
// raw counts otherwise. Only meaningful after Freeze.
func (s *CountStore) CountOfCounts(length, c int, continuation bool) int64 {
	if length < 1 || length > s.order || c < 1 || c > 4 {
		return 0
	}
	if continuation {
		return s.knCounts[length][c]
	}
	return s.rawCounts[length][c]
}

// WalkEvents visits every distinct training event in deterministic order:
// top-order n-grams and the shorter n-grams anchored at <s>. weight is the
// number of positions that produced the event.
func (s *CountStore) WalkEvents(fn func(ngram []TokenID, weight int64)) {
	s.walkEvents(s.root, make([]TokenID, 0, s.order), fn)
}

func (s *CountStore) walkEvents(node *TrieNode, path []TokenID, fn func([]TokenID, int64)) {
	if len(path) > 0 && node.count > 0 && (len(path) == s.order || path[0] == BOSID) {
		fn(path, node.count)
	}
	if len(path) == s.order {
		return
	}
	for _, id := range node.sortedChildIDs() {
		s.walkEvents(node.children[id], append(path, id), fn)
	}
}

// StoreStats describes the size of a count store.
type StoreStats struct {
	Order          int     `json:"order"`
	Sentences      int64   `json:"sentences"`
	TotalTokens    int64   `json:"total_tokens"`
	NGramsPerOrder []int64 `json:"ngrams_per_order"`
	TotalNodes     int64   `json:"total_nodes"`
	MemoryBytes    int64   `json:"memory_bytes"`
	BloomFilter    bool    `json:"bloom_filter"`
}

// Stats returns node counts and a rough memory estimate.
func (s *CountStore) Stats() StoreStats {
	perOrder := make([]int64, s.order)
	var total int64
	for k := 1; k <= s.order; k++ {
		perOrder[k-1] = s.nodes[k]
		total += s.nodes[k]
	}
	mem := (total + 1) * 120 // node struct + map entry, approx
	if s.bloomFilter != nil {
		mem += int64(s.bloomFilter.Cap() / 8)
	}
	return StoreStats{
		Order:          s.order,
		Sentences:      s.sentences,
		TotalTokens:    s.totalTokens,
		NGramsPerOrder: perOrder,
		TotalNodes:     total,
		MemoryBytes:    mem,
		BloomFilter:    s.bloomFilter != nil,
	}
}

func (s StoreStats) String() string {
	return fmt.Sprintf("order=%d sentences=%d tokens=%d nodes=%d", s.Order, s.Sentences, s.TotalTokens, s.TotalNodes)
}
