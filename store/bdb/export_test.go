package bdb

func (e *Env) OpenCount() int {
	return len(e.dbs)
}
