// Package graph exposes a read-only GraphQL query facade over users and
// documents.
package graph

import (
	"context"
	"errors"

	"cirrusdocs/api/internal/access"
	"cirrusdocs/api/internal/store"
	"github.com/graphql-go/graphql"
)

// Store is the data access the resolvers need.
type Store interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	FindByFilename(ctx context.Context, filename string) (store.Document, error)
	ListAllowedDocuments(ctx context.Context, email string, code bool) ([]store.Document, error)
	ListUserDocuments(ctx context.Context, email string) ([]store.Document, error)
}

type callerKey struct{}

// WithCaller attaches the authenticated caller's email to the context.
func WithCaller(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, callerKey{}, email)
}

func callerFromContext(ctx context.Context) string {
	email, _ := ctx.Value(callerKey{}).(string)
	return email
}

// Service executes GraphQL queries against the built schema.
type Service struct {
	schema graphql.Schema
}

// NewService builds the schema with resolvers bound to the given store.
func NewService(st Store) (*Service, error) {
	commentType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Comment",
		Fields: graphql.Fields{
			"nr":   &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"text": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		},
	})

	docType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Doc",
		Fields: graphql.Fields{
			"filename":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"code":         &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"title":        &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"content":      &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"comments":     &graphql.Field{Type: graphql.NewList(commentType)},
			"allowedusers": &graphql.Field{Type: graphql.NewList(graphql.String)},
			"ownerName":    &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"ownerEmail":   &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		},
	})

	userType := graphql.NewObject(graphql.ObjectConfig{
		Name: "User",
		Fields: graphql.Fields{
			"email": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"name":  &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"docs": &graphql.Field{
				Type: graphql.NewList(docType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					user, ok := p.Source.(store.User)
					if !ok {
						return nil, nil
					}
					docs, err := st.ListUserDocuments(p.Context, user.Email)
					if err != nil {
						return nil, err
					}
					return docViews(docs), nil
				},
			},
		},
	})

	rootQuery := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"user": &graphql.Field{
				Type:        userType,
				Description: "One user",
				Args: graphql.FieldConfigArgument{
					"email": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					email, _ := p.Args["email"].(string)
					user, err := st.GetUserByEmail(p.Context, email)
					if err != nil {
						return nil, nil
					}
					return user, nil
				},
			},
			"users": &graphql.Field{
				Type:        graphql.NewList(userType),
				Description: "All users",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return st.ListUsers(p.Context)
				},
			},
			"doc": &graphql.Field{
				Type:        docType,
				Description: "One document",
				Args: graphql.FieldConfigArgument{
					"filename": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					filename, _ := p.Args["filename"].(string)
					doc, err := st.FindByFilename(p.Context, filename)
					if err != nil {
						return nil, nil
					}
					caller := callerFromContext(p.Context)
					snapshot := access.Snapshot{
						OwnerEmail:   doc.OwnerEmail,
						AllowedUsers: doc.AllowedUsers,
					}
					if err := access.Authorize(snapshot, caller, access.ActionRead); err != nil {
						return nil, errors.New("not allowed to read this document")
					}
					return docView(doc), nil
				},
			},
			"allowedDocs": &graphql.Field{
				Type:        graphql.NewList(docType),
				Description: "All files a user is allowed to edit, in the given mode",
				Args: graphql.FieldConfigArgument{
					"email": &graphql.ArgumentConfig{Type: graphql.String},
					"code":  &graphql.ArgumentConfig{Type: graphql.Boolean},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					email, _ := p.Args["email"].(string)
					code, _ := p.Args["code"].(bool)
					docs, err := st.ListAllowedDocuments(p.Context, email, code)
					if err != nil {
						return nil, err
					}
					return docViews(docs), nil
				},
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{Query: rootQuery})
	if err != nil {
		return nil, err
	}
	return &Service{schema: schema}, nil
}

// Query executes a GraphQL query. The caller email must already be on the
// context via WithCaller.
func (s *Service) Query(ctx context.Context, query string, variables map[string]interface{}) *graphql.Result {
	return graphql.Do(graphql.Params{
		Schema:         s.schema,
		RequestString:  query,
		VariableValues: variables,
		Context:        ctx,
	})
}

// docView flattens a stored document into the field names the schema uses.
func docView(d store.Document) map[string]interface{} {
	comments := make([]map[string]interface{}, 0, len(d.Comments))
	for _, c := range d.Comments {
		comments = append(comments, map[string]interface{}{"nr": c.Nr, "text": c.Text})
	}
	return map[string]interface{}{
		"filename":     d.Filename,
		"code":         d.Code,
		"title":        d.Title,
		"content":      d.Content,
		"comments":     comments,
		"allowedusers": d.AllowedUsers,
		"ownerName":    d.OwnerName,
		"ownerEmail":   d.OwnerEmail,
	}
}

func docViews(docs []store.Document) []map[string]interface{} {
	views := make([]map[string]interface{}, 0, len(docs))
	for _, d := range docs {
		views = append(views, docView(d))
	}
	return views
}
