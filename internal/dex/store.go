package dex

// Store is one class container (the root store plus any feature stores).
type Store struct {
	Name    string
	classes []*Class
}

// NewStore creates an empty store.
func NewStore(name string) *Store {
	return &Store{Name: name}
}

// AddClass appends a class and records its store membership.
func (s *Store) AddClass(c *Class) {
	c.store = s.Name
	s.classes = append(s.classes, c)
}

// RemoveClass detaches a class from the store. Returns false if the class
// was not a member.
func (s *Store) RemoveClass(c *Class) bool {
	for i, e := range s.classes {
		if e == c {
			s.classes = append(s.classes[:i], s.classes[i+1:]...)
			return true
		}
	}
	return false
}

// Classes returns the classes in insertion order.
func (s *Store) Classes() []*Class { return s.classes }

// BuildClassScope flattens stores into the ordered class list passes operate
// on, rooted at stores[0].
func BuildClassScope(stores []*Store) []*Class {
	var scope []*Class
	for _, s := range stores {
		scope = append(scope, s.classes...)
	}
	return scope
}
