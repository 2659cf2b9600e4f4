// Package terminology answers value set membership questions for coded
// fields.
//
// Store holds FHIR R4 ValueSets and CodeSystems in memory. Value sets
// defined by compose filters (is-a, descendent-of, regex, =) expand on
// first use. A handful of common code systems are preloaded by NewStore.
//
//	ts := terminology.NewStore()
//	if _, err := ts.LoadDir("terminology/"); err != nil {
//		return err
//	}
//	member, known := ts.Contains("http://hl7.org/fhir/ValueSet/administrative-gender", "female")
//
// Cached wraps any terminology with a sharded TTL cache.
package terminology
