package orchestrator

import "github.com/cortexops/drover/pkg/types"

// taskQueue is a four-band priority queue of task ids, FIFO within each
// band. Bands are indexed by priority weight. Not safe for concurrent use;
// the orchestrator's lock guards it.
type taskQueue struct {
	bands [4][]string
}

func (q *taskQueue) push(taskID string, p types.Priority) {
	w := p.Weight()
	q.bands[w] = append(q.bands[w], taskID)
}

// pushFront returns a task to the head of its band, preserving FIFO order
// when a dispatch attempt is abandoned.
func (q *taskQueue) pushFront(taskID string, p types.Priority) {
	w := p.Weight()
	q.bands[w] = append([]string{taskID}, q.bands[w]...)
}

func (q *taskQueue) pop() (string, bool) {
	for w := len(q.bands) - 1; w >= 0; w-- {
		if len(q.bands[w]) == 0 {
			continue
		}
		taskID := q.bands[w][0]
		q.bands[w] = q.bands[w][1:]
		return taskID, true
	}
	return "", false
}

func (q *taskQueue) remove(taskID string) bool {
	for w := range q.bands {
		for i, id := range q.bands[w] {
			if id == taskID {
				q.bands[w] = append(q.bands[w][:i], q.bands[w][i+1:]...)
				return true
			}
		}
	}
	return false
}

func (q *taskQueue) len() int {
	n := 0
	for _, band := range q.bands {
		n += len(band)
	}
	return n
}
