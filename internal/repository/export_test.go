package repository

func (r *CodeRepository) SetGenerator(gen func() (string, error), attempts int) {
	r.generate = gen
	r.attempts = attempts
}
