package models

import "time"

type PostType string

const (
	PostAdoption   PostType = "adoption"
	PostDiscussion PostType = "discussion"
	PostHelp       PostType = "help"
	PostMedia      PostType = "media"
)

func (t PostType) Valid() bool {
	switch t {
	case PostAdoption, PostDiscussion, PostHelp, PostMedia:
		return true
	}
	return false
}

type Post struct {
	ID          int         `json:"id"`
	UserID      int         `json:"userId"`
	Author      string      `json:"author"`
	Type        PostType    `json:"type"`
	Title       *string     `json:"title"`
	Description *string     `json:"description"`
	Location    *string     `json:"location"`
	Likes       int         `json:"likes"`
	CreatedAt   time.Time   `json:"createdAt"`
	Details     PostDetails `json:"details,omitempty"`
}

// PostDetails is the per-type detail record. Exactly one implementation
// exists per PostType that carries details; media posts have none.
type PostDetails interface {
	PostType() PostType
}

type AdoptionDetails struct {
	PetName string  `json:"petName"`
	Species *string `json:"species"`
	Breed   *string `json:"breed"`
	Age     *string `json:"age"`
	Gender  *string `json:"gender"`
	Size    *string `json:"size"`
	Urgent  bool    `json:"urgent"`
}

func (AdoptionDetails) PostType() PostType { return PostAdoption }

type DiscussionDetails struct {
	Tags      []string `json:"tags"`
	IsPopular bool     `json:"isPopular"`
}

func (DiscussionDetails) PostType() PostType { return PostDiscussion }

type HelpDetails struct {
	HelpType     *string `json:"helpType"`
	UrgencyLevel string  `json:"urgencyLevel"`
	Status       string  `json:"status"`
}

func (HelpDetails) PostType() PostType { return PostHelp }
