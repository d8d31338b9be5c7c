// Package pqueue provides a priority queue with stable FIFO ordering within
// a priority class and support for removing or reprioritizing arbitrary
// items.
package pqueue

import (
	"container/list"
	"sort"
)

// Item is an element of a Queue.
type Item[K comparable, V any] struct {
	Key      K
	Value    V
	Priority int
	// Seq is the insertion sequence number of the item, it is increased
	// when the item is moved to another priority class.
	Seq uint64
}

// Queue is a priority queue, items with a higher priority are served first.
// Items with the same priority are served in insertion order.
// Queue is not safe for concurrent use.
type Queue[K comparable, V any] struct {
	order *list.List
	items map[K]*list.Element
	// tails maps a priority to the last element of its class.
	tails map[int]*list.Element
	// prios contains all priorities that have items, in descending order.
	prios []int
	seq   uint64
}

// New returns an empty queue.
func New[K comparable, V any]() *Queue[K, V] {
	return &Queue[K, V]{
		order: list.New(),
		items: map[K]*list.Element{},
		tails: map[int]*list.Element{},
	}
}

func itemOf[K comparable, V any](e *list.Element) *Item[K, V] {
	return e.Value.(*Item[K, V])
}

// Insert adds an item to the tail of its priority class.
// If an item with the key exists and has the same priority, its value is
// replaced and its position is kept. If it has a different priority it is
// moved to the tail of the new priority class.
func (q *Queue[K, V]) Insert(key K, val V, prio int) {
	if e, exists := q.items[key]; exists {
		it := itemOf[K, V](e)
		it.Value = val

		if it.Priority != prio {
			q.Move(key, prio)
		}

		return
	}

	q.seq++
	it := Item[K, V]{Key: key, Value: val, Priority: prio, Seq: q.seq}
	q.items[key] = q.splice(&it)
}

// Delete removes the item with the key.
// It returns false when the key does not exist.
func (q *Queue[K, V]) Delete(key K) bool {
	e, exists := q.items[key]
	if !exists {
		return false
	}

	q.unlink(e)
	delete(q.items, key)

	return true
}

// Move changes the priority of the item with the key and places it at the
// tail of the new priority class. The order of all other items is
// unchanged.
// It returns false when the key does not exist.
func (q *Queue[K, V]) Move(key K, prio int) bool {
	e, exists := q.items[key]
	if !exists {
		return false
	}

	it := itemOf[K, V](e)
	q.unlink(e)

	q.seq++
	it.Priority = prio
	it.Seq = q.seq
	q.items[key] = q.splice(it)

	return true
}

// splice inserts it at the tail of its priority class.
func (q *Queue[K, V]) splice(it *Item[K, V]) *list.Element {
	var e *list.Element

	if tail, exists := q.tails[it.Priority]; exists {
		e = q.order.InsertAfter(it, tail)
		q.tails[it.Priority] = e
		return e
	}

	// index of the first priority class that is lower than it.Priority
	idx := sort.Search(len(q.prios), func(i int) bool {
		return q.prios[i] < it.Priority
	})

	if idx == 0 {
		e = q.order.PushFront(it)
	} else {
		e = q.order.InsertAfter(it, q.tails[q.prios[idx-1]])
	}

	q.prios = append(q.prios, 0)
	copy(q.prios[idx+1:], q.prios[idx:])
	q.prios[idx] = it.Priority
	q.tails[it.Priority] = e

	return e
}

// unlink removes e from the order list and maintains the class tails.
// It does not remove the element from q.items.
func (q *Queue[K, V]) unlink(e *list.Element) {
	it := itemOf[K, V](e)

	if q.tails[it.Priority] == e {
		if prev := e.Prev(); prev != nil && itemOf[K, V](prev).Priority == it.Priority {
			q.tails[it.Priority] = prev
		} else {
			q.removeClass(it.Priority)
		}
	}

	q.order.Remove(e)
}

func (q *Queue[K, V]) removeClass(prio int) {
	delete(q.tails, prio)

	idx := sort.Search(len(q.prios), func(i int) bool {
		return q.prios[i] <= prio
	})
	if idx < len(q.prios) && q.prios[idx] == prio {
		q.prios = append(q.prios[:idx], q.prios[idx+1:]...)
	}
}

func (q *Queue[K, V]) itemAt(e *list.Element) (Item[K, V], bool) {
	if e == nil {
		return Item[K, V]{}, false
	}

	return *itemOf[K, V](e), true
}

// Peek returns the item with the highest priority without removing it.
// If the queue is empty, false is returned.
func (q *Queue[K, V]) Peek() (Item[K, V], bool) {
	return q.itemAt(q.order.Front())
}

// PeekR returns the item with the lowest priority without removing it.
// If the queue is empty, false is returned.
func (q *Queue[K, V]) PeekR() (Item[K, V], bool) {
	return q.itemAt(q.order.Back())
}

// Pop removes and returns the item with the highest priority.
// If the queue is empty, false is returned.
func (q *Queue[K, V]) Pop() (Item[K, V], bool) {
	it, ok := q.Peek()
	if ok {
		q.Delete(it.Key)
	}

	return it, ok
}

// PopR removes and returns the item with the lowest priority.
// If the queue is empty, false is returned.
func (q *Queue[K, V]) PopR() (Item[K, V], bool) {
	it, ok := q.PeekR()
	if ok {
		q.Delete(it.Key)
	}

	return it, ok
}

func (q *Queue[K, V]) Len() int {
	return q.order.Len()
}

func (q *Queue[K, V]) IsEmpty() bool {
	return q.order.Len() == 0
}

func (q *Queue[K, V]) Contains(key K) bool {
	_, exists := q.items[key]
	return exists
}

// Get returns the item with the key.
func (q *Queue[K, V]) Get(key K) (Item[K, V], bool) {
	return q.itemAt(q.items[key])
}

// Foreach iterates through the queue from the head to the tail.
// When fn returns false the iteration is aborted.
func (q *Queue[K, V]) Foreach(fn func(Item[K, V]) bool) {
	for e := q.order.Front(); e != nil; e = e.Next() {
		if !fn(*itemOf[K, V](e)) {
			return
		}
	}
}

// Items returns a copy of all items, ordered from head to tail.
func (q *Queue[K, V]) Items() []Item[K, V] {
	result := make([]Item[K, V], 0, q.order.Len())

	q.Foreach(func(it Item[K, V]) bool {
		result = append(result, it)
		return true
	})

	return result
}
