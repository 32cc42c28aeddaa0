// Package ilist implements an allocation-free intrusive doubly linked list.
//
// Members are identified by integer index into a Slab that owns the link
// storage for every member and every list sentinel. A list is a sentinel slot
// in the same slab that closes the chain into a ring:
//
//	sentinel ⇄ m3 ⇄ m0 ⇄ m7 ⇄ sentinel
//
// Several lists may share one slab (a free list plus any number of in-use
// lists threading the same N buffers). Each member is on at most one list at
// a time. An unlinked member has both links set to Nil.
//
// The package has no ownership semantics: it only threads existing entities
// together, and it is not safe for concurrent use.
package ilist

import "fmt"

// Nil is the link value of an unlinked member.
const Nil = -1

// Slab holds next/prev links for a fixed number of members followed by one
// sentinel slot per list.
type Slab struct {
	next    []int32
	prev    []int32
	members int
}

// NewSlab allocates link storage for members entries, all unlinked.
func NewSlab(members int) *Slab {
	if members < 0 {
		members = 0
	}
	s := &Slab{
		next:    make([]int32, members),
		prev:    make([]int32, members),
		members: members,
	}
	for i := range s.next {
		s.next[i] = Nil
		s.prev[i] = Nil
	}
	return s
}

// Members returns the number of member slots (sentinels excluded).
func (s *Slab) Members() int { return s.members }

// NewList appends a sentinel slot and returns an empty list over the slab.
// Call it during setup: it grows the link storage.
func (s *Slab) NewList() *List {
	head := int32(len(s.next))
	s.next = append(s.next, head)
	s.prev = append(s.prev, head)
	return &List{s: s, head: head}
}

// Linked reports whether member i is currently on some list.
func (s *Slab) Linked(i int) bool {
	s.check(i)
	return s.next[i] != Nil
}

// Remove unlinks member i from whatever list holds it and clears its links.
// Removing an unlinked member is a no-op.
func (s *Slab) Remove(i int) {
	s.check(i)
	n, p := s.next[i], s.prev[i]
	if n == Nil {
		return
	}
	s.next[p] = n
	s.prev[n] = p
	s.next[i] = Nil
	s.prev[i] = Nil
}

func (s *Slab) check(i int) {
	if i < 0 || i >= s.members {
		panic(fmt.Sprintf("ilist: member %d out of range [0,%d)", i, s.members))
	}
}

// insertAfter links member i between at and at.next.
func (s *Slab) insertAfter(at int32, i int) {
	s.check(i)
	if s.next[i] != Nil {
		panic(fmt.Sprintf("ilist: member %d is already linked", i))
	}
	idx := int32(i)
	n := s.next[at]
	s.next[idx] = n
	s.prev[idx] = at
	s.prev[n] = idx
	s.next[at] = idx
}

// List is a ring closed by a sentinel slot of its Slab.
type List struct {
	s    *Slab
	head int32
}

// Slab returns the link storage the list threads through.
func (l *List) Slab() *Slab { return l.s }

// Empty reports whether the list has no members. O(1).
func (l *List) Empty() bool { return l.s.next[l.head] == l.head }

// InsertFront links member i right after the sentinel. i must be unlinked.
func (l *List) InsertFront(i int) { l.s.insertAfter(l.head, i) }

// InsertBack links member i right before the sentinel. i must be unlinked.
func (l *List) InsertBack(i int) { l.s.insertAfter(l.s.prev[l.head], i) }

// Remove unlinks member i and clears its links. The caller guarantees i is
// on this list (or unlinked).
func (l *List) Remove(i int) { l.s.Remove(i) }

// PeekFront returns the first member without unlinking it.
func (l *List) PeekFront() (int, bool) {
	n := l.s.next[l.head]
	if n == l.head {
		return Nil, false
	}
	return int(n), true
}

// PeekBack returns the last member without unlinking it.
func (l *List) PeekBack() (int, bool) {
	p := l.s.prev[l.head]
	if p == l.head {
		return Nil, false
	}
	return int(p), true
}

// PopFront unlinks and returns the first member.
func (l *List) PopFront() (int, bool) {
	i, ok := l.PeekFront()
	if ok {
		l.s.Remove(i)
	}
	return i, ok
}

// PopBack unlinks and returns the last member.
func (l *List) PopBack() (int, bool) {
	i, ok := l.PeekBack()
	if ok {
		l.s.Remove(i)
	}
	return i, ok
}

// Len counts members by walking the ring. O(n), diagnostics only.
func (l *List) Len() int {
	n := 0
	for i := l.s.next[l.head]; i != l.head; i = l.s.next[i] {
		n++
	}
	return n
}

// Each calls fn for every member in order until fn returns false. The next
// link is read before fn runs, so fn may remove the current member.
func (l *List) Each(fn func(i int) bool) {
	for i := l.s.next[l.head]; i != l.head; {
		next := l.s.next[i]
		if !fn(int(i)) {
			return
		}
		i = next
	}
}
