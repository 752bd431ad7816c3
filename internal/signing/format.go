package signing

// Format attaches a signature to the canonical document, producing the
// payload sent to the authority.
type Format interface {
	Name() string
	Attach(xml, signature string) string
}

// TrailerFormat appends the signature as a trailing XML comment.
//
// This is not an authority-compliant signature: a compliant payload needs an
// enveloped XMLDSig with canonicalization and signed properties. It remains
// the default until such a Format exists.
type TrailerFormat struct{}

// Name implements Format.
func (TrailerFormat) Name() string { return "trailer-comment" }

// Attach implements Format.
func (TrailerFormat) Attach(xml, signature string) string {
	return xml + "\n<!-- Signature:" + signature + " -->"
}
