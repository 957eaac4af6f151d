package output

import "time"

func (s *DirSink) SetNow(now func() time.Time) {
	s.now = now
}
