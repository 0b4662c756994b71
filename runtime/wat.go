package runtime

// NewModuleFromWAT translates text with the library's wat2wasm and compiles
// the result.
func (s *Store) NewModuleFromWAT(text string) (*Module, error) {
	bin, err := s.engine.Wat2Wasm(text)
	if err != nil {
		return nil, err
	}
	return s.NewModule(bin)
}
