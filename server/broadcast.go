package server

import (
	"time"

	"github.com/teranos/missionctl/logger"
	"github.com/teranos/missionctl/pulse/async"
)

// broadcastMessage sends msg to every client with room in its buffer.
// Returns the number of clients that accepted it.
func (s *Server) broadcastMessage(msg interface{}) int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	sent := 0
	for c := range s.clients {
		select {
		case c.send <- msg:
			sent++
		default:
			// Slow client, drop this update
		}
	}
	return sent
}

// broadcastJobUpdate fans one job change out to /ws/jobs clients
func (s *Server) broadcastJobUpdate(job *async.Job) {
	sent := s.broadcastMessage(JobUpdateMessage{
		Type:      "job_update",
		Job:       job,
		Timestamp: time.Now().Unix(),
	})
	if sent > 0 {
		s.logger.Debugw("Broadcast job update", logger.FieldJobID, job.ID, logger.FieldStatus, job.Status, "clients", sent)
	}
}

// startJobUpdateBroadcaster subscribes to queue updates until the server stops
func (s *Server) startJobUpdateBroadcaster() {
	jobChan := s.queue.Subscribe()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			// Unsubscribe before close so the queue never sends on a closed channel
			s.queue.Unsubscribe(jobChan)
			close(jobChan)
		}()

		for {
			select {
			case <-s.ctx.Done():
				return
			case job := <-jobChan:
				s.broadcastJobUpdate(job)
			}
		}
	}()
}

// closeClients closes every client's send channel; writePump then sends a close frame
func (s *Server) closeClients() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		c.close()
	}
}
