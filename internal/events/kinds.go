package events

type Kind string

const (
	AvisAmendementModifie     Kind = "avis_amendement_modifie"
	ObjetAmendementModifie    Kind = "objet_amendement_modifie"
	ReponseAmendementModifiee Kind = "reponse_amendement_modifiee"
	CommentsAmendementModifie Kind = "comments_amendement_modifie"
	AmendementTransfere       Kind = "amendement_transfere"
	BatchSet                  Kind = "batch_set"
	BatchUnset                Kind = "batch_unset"
	AmendementRectifie        Kind = "amendement_rectifie"
	SortAmendementModifie     Kind = "sort_amendement_modifie"
	CorpsAmendementModifie    Kind = "corps_amendement_modifie"
	ExposeAmendementModifie   Kind = "expose_amendement_modifie"

	TitreArticleModifie         Kind = "titre_article_modifie"
	PresentationArticleModifiee Kind = "presentation_article_modifiee"
	ContenuArticleModifie       Kind = "contenu_article_modifie"

	LectureCreee         Kind = "lecture_creee"
	AmendementsRecuperes Kind = "amendements_recuperes"
	AmendementsAVerifier Kind = "amendements_a_verifier"
	RecuperationEchouee  Kind = "recuperation_echouee"
)

type definition struct {
	subject SubjectType
	decode  func([]byte) (Payload, error)
	accepts func(Payload) bool
	summary func(Event) string
	details func(Event) string
}

func change(subject SubjectType, summary, details func(Event) string) definition {
	return definition{subject: subject, decode: decodeAs[Change], accepts: is[Change], summary: summary, details: details}
}

var definitions = map[Kind]definition{
	AvisAmendementModifie:     change(SubjectAmendement, summarizeAvis, nil),
	ObjetAmendementModifie:    change(SubjectAmendement, userAction("a modifié l’objet."), wordDiff),
	ReponseAmendementModifiee: change(SubjectAmendement, userAction("a modifié la réponse."), wordDiff),
	CommentsAmendementModifie: change(SubjectAmendement, userAction("a modifié les commentaires."), wordDiff),
	AmendementTransfere:       change(SubjectAmendement, summarizeTransfer, nil),
	BatchSet: {
		subject: SubjectAmendement,
		decode:  decodeAs[BatchChange],
		accepts: is[BatchChange],
		summary: summarizeBatchSet,
	},
	BatchUnset:              change(SubjectAmendement, summarizeBatchUnset, nil),
	AmendementRectifie:      change(SubjectAmendement, serviceAction("L’amendement a été rectifié par les services %s."), nil),
	SortAmendementModifie:   change(SubjectAmendement, summarizeSort, nil),
	CorpsAmendementModifie:  change(SubjectAmendement, serviceAction("Le corps de l’amendement a été modifié par les services %s."), wordDiff),
	ExposeAmendementModifie: change(SubjectAmendement, serviceAction("L’exposé de l’amendement a été modifié par les services %s."), wordDiff),

	TitreArticleModifie:         change(SubjectArticle, summarizeArticleField("le titre", "Le titre de l’article a été modifié par les services %s."), wordDiff),
	PresentationArticleModifiee: change(SubjectArticle, summarizeArticleField("la présentation", "La présentation de l’article a été modifiée par les services %s."), wordDiff),
	ContenuArticleModifie:       change(SubjectArticle, serviceAction("Le contenu de l’article a été modifié par les services %s."), wordDiff),

	LectureCreee: change(SubjectLecture, userAction("a créé la lecture."), nil),
	AmendementsRecuperes: {
		subject: SubjectLecture,
		decode:  decodeAs[Count],
		accepts: is[Count],
		summary: summarizeFetched,
	},
	AmendementsAVerifier: {
		subject: SubjectLecture,
		decode:  decodeAs[Flagged],
		accepts: is[Flagged],
		summary: summarizeFlagged,
		details: flaggedDetails,
	},
	RecuperationEchouee: {
		subject: SubjectLecture,
		decode:  decodeAs[Failure],
		accepts: is[Failure],
		summary: summarizeFailure,
		details: failureDetails,
	},
}

// Kinds lists the registered kinds.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(definitions))
	for k := range definitions {
		kinds = append(kinds, k)
	}
	return kinds
}

// SubjectOf is the subject type a kind applies to.
func SubjectOf(kind Kind) (SubjectType, bool) {
	def, ok := definitions[kind]
	return def.subject, ok
}
