package v1

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/onepanelio/functionary/pkg/dockerfiles"
	"github.com/onepanelio/functionary/pkg/metrics"
	"github.com/onepanelio/functionary/pkg/util"
	"github.com/onepanelio/functionary/pkg/util/archive"
	"github.com/onepanelio/functionary/pkg/util/pagination"
	"github.com/onepanelio/functionary/pkg/util/retry"
	"github.com/onepanelio/functionary/pkg/worker"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
)

// pushBackoff is the retry policy of registry pushes.
var pushBackoff = retry.Backoff{
	Attempts: 3,
	Delay:    10 * time.Second,
	Factor:   2,
}

func buildsSelectBuilder() sq.SelectBuilder {
	return sb.Select(getBuildColumns("b")...).
		From("builds b")
}

// getBuild loads a build. An empty environmentID matches any environment.
func getBuild(q querier, environmentID, id string) (*Build, error) {
	query := buildsSelectBuilder().Where(sq.Eq{"b.id": id})
	if environmentID != "" {
		query = query.Where(sq.Eq{"b.environment_id": environmentID})
	}

	build := &Build{}
	err := q.Getx(build, query)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NewUserError(codes.NotFound, "Build not found.")
	}
	if err != nil {
		return nil, err
	}

	return build, nil
}

// imageName is the repository and tag of the image of a build, without the registry.
func imageName(environmentID, packageName, buildID string) string {
	return fmt.Sprintf("%v/%v:%v", environmentID, packageName, buildID)
}

// PublishPackage validates the package.yaml of contents and starts a build.
// An unusable archive fails with InvalidArgument and no build is created.
func (c *Client) PublishPackage(ctx context.Context, scope Scope, contents []byte) (*Build, error) {
	if err := c.authorize(scope, ActionCreate, ResourcePackage); err != nil {
		return nil, err
	}
	if c.images == nil {
		return nil, util.NewUserError(codes.FailedPrecondition, "Package builds are not supported without an image builder.")
	}

	definition, err := ExtractPackageDefinition(contents)
	if err != nil {
		log.WithFields(log.Fields{
			"EnvironmentID": scope.EnvironmentID,
			"Error":         err.Error(),
		}).Info("Rejected package archive.")
		return nil, util.NewUserErrorWithCause(codes.InvalidArgument, err, err.Error())
	}

	encoded, err := json.Marshal(definition.Package)
	if err != nil {
		return nil, err
	}

	build := &Build{
		ID:            newID(),
		EnvironmentID: scope.EnvironmentID,
		Name:          definition.Package.Name,
		Status:        StatusPending,
		Creator:       scope.Principal,
	}
	err = c.Transaction(ctx, func(tx *Tx) error {
		var packageIDs []string
		err := tx.Selectx(&packageIDs, sb.Select("p.id").
			From("packages p").
			Where(sq.Eq{
				"p.environment_id": scope.EnvironmentID,
				"p.name":           definition.Package.Name,
			}))
		if err != nil {
			return err
		}
		if len(packageIDs) > 0 {
			build.PackageID = &packageIDs[0]
		}

		timestamp := now()
		build.CreatedAt = timestamp
		build.UpdatedAt = timestamp
		_, err = tx.Execx(sb.Insert("builds").
			SetMap(sq.Eq{
				"id":             build.ID,
				"environment_id": build.EnvironmentID,
				"package_id":     build.PackageID,
				"name":           build.Name,
				"status":         build.Status,
				"creator":        build.Creator,
				"created_at":     build.CreatedAt,
				"updated_at":     build.UpdatedAt,
			}))
		if err != nil {
			return err
		}

		_, err = tx.Execx(sb.Insert("build_resources").
			SetMap(sq.Eq{
				"build_id":                   build.ID,
				"package_contents":           contents,
				"package_definition":         encoded,
				"package_definition_version": definition.Version,
			}))
		if err != nil {
			return err
		}

		tx.AfterCommit(func() {
			c.enqueueBuild(build.ID)
		})

		return nil
	})
	if err != nil {
		log.WithFields(log.Fields{
			"EnvironmentID": scope.EnvironmentID,
			"Package":       definition.Package.Name,
			"Error":         err.Error(),
		}).Error("PublishPackage failed.")
		return nil, util.NewUserError(codes.Unknown, "Could not create build.")
	}

	return build, nil
}

func (c *Client) enqueueBuild(buildID string) {
	err := c.jobs.Submit(context.Background(), worker.Job{
		Name: "build_package " + buildID,
		Run: func(ctx context.Context) error {
			return c.BuildPackage(ctx, buildID)
		},
		OnFailure: func(err error) {
			log.WithFields(log.Fields{
				"BuildID": buildID,
				"Error":   err.Error(),
			}).Error("Build job failed.")
		},
	})
	if err != nil {
		log.WithFields(log.Fields{
			"BuildID": buildID,
			"Error":   err.Error(),
		}).Error("Unable to enqueue build.")
	}
}

// BuildPackage runs a PENDING build: the image is built and pushed, then the catalog is reconciled
// with the package definition. Builds that already started are skipped.
// Build failures are recorded on the build and are not returned.
func (c *Client) BuildPackage(ctx context.Context, buildID string) error {
	var build *Build
	resource := &BuildResource{}
	err := c.Transaction(ctx, func(tx *Tx) (err error) {
		build, err = getBuild(tx, "", buildID)
		if err != nil {
			return err
		}
		if build.Status != StatusPending {
			return nil
		}

		err = tx.Getx(resource, sb.Select("br.build_id", "br.package_contents", "br.package_definition", "br.package_definition_version").
			From("build_resources br").
			Where(sq.Eq{"br.build_id": buildID}))
		if err != nil {
			return err
		}

		return setBuildStatus(tx, build, StatusInProgress)
	})
	if err != nil {
		return err
	}
	if build.Status != StatusInProgress {
		log.WithFields(log.Fields{
			"BuildID": buildID,
			"Status":  build.Status,
		}).Info("Skipping build that is not pending.")
		return nil
	}

	logger := log.WithFields(log.Fields{
		"BuildID":       build.ID,
		"EnvironmentID": build.EnvironmentID,
	})
	logger.Info("Starting build.")

	manifest := PackageManifest{}
	if err := json.Unmarshal(resource.PackageDefinition, &manifest); err != nil {
		return c.finishBuild(ctx, build, nil, "Unable to read the package definition: "+err.Error())
	}

	name := imageName(build.EnvironmentID, manifest.Name, build.ID)
	output, err := c.buildImage(ctx, build, resource.PackageContents, manifest.Language, name)
	if err != nil {
		logger.WithField("Error", err.Error()).Error("Image build failed.")
		return c.finishBuild(ctx, build, nil, output+"\n"+err.Error())
	}

	return c.finishBuild(ctx, build, func(tx *Tx) (*Package, error) {
		return reconcileCatalog(tx, build.EnvironmentID, &manifest, name)
	}, output)
}

// buildImage builds and pushes the image of a build and returns the combined build and push output.
func (c *Client) buildImage(ctx context.Context, build *Build, contents []byte, language, name string) (string, error) {
	if c.config.BuildWorkDir() != "" {
		if err := os.MkdirAll(c.config.BuildWorkDir(), 0755); err != nil {
			return "", err
		}
	}
	workdir, err := os.MkdirTemp(c.config.BuildWorkDir(), build.ID+"-")
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.RemoveAll(workdir); err != nil {
			log.WithFields(log.Fields{
				"BuildID": build.ID,
				"Workdir": workdir,
				"Error":   err.Error(),
			}).Warn("Unable to clean up build workdir.")
		}
	}()

	if err := archive.Extract(contents, workdir); err != nil {
		return "", err
	}

	registry := c.config.RegistryConfig().Host
	dockerfile, err := dockerfiles.Render(language, dockerfiles.Values{Registry: registry})
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(workdir, "Dockerfile"), dockerfile, 0644); err != nil {
		return "", err
	}

	buildContext, err := archive.Tar(workdir)
	if err != nil {
		return "", err
	}

	tag := (&Package{ImageName: name}).FullImageName(registry)
	buildOutput, err := c.images.BuildImage(ctx, buildContext, tag)
	if err != nil {
		return buildOutput, err
	}

	var pushOutput string
	err = retry.OnError(ctx, pushBackoff, retry.NotContextCancelError, func() (err error) {
		pushOutput, err = c.images.PushImage(ctx, tag)
		if err != nil {
			log.WithFields(log.Fields{
				"BuildID": build.ID,
				"Image":   tag,
				"Error":   err.Error(),
			}).Warn("Image push failed.")
		}
		return err
	})

	return strings.Join([]string{buildOutput, pushOutput}, "\n"), err
}

// finishBuild records the terminal status of a build. The build is COMPLETE when reconcile is set
// and succeeds, and ERROR otherwise. Its resources are deleted either way.
func (c *Client) finishBuild(ctx context.Context, build *Build, reconcile func(tx *Tx) (*Package, error), output string) error {
	finish := func(tx *Tx, status Status, packageID *string, output string) error {
		if packageID != nil {
			_, err := tx.Execx(sb.Update("builds").
				Set("package_id", *packageID).
				Where(sq.Eq{"id": build.ID}))
			if err != nil {
				return err
			}
			build.PackageID = packageID
		}
		if err := setBuildStatus(tx, build, status); err != nil {
			return err
		}

		_, err := tx.Execx(sb.Delete("build_resources").Where(sq.Eq{"build_id": build.ID}))
		if err != nil {
			return err
		}

		_, err = tx.Execx(sb.Insert("build_logs").
			SetMap(sq.Eq{
				"build_id": build.ID,
				"log":      output,
			}).
			Suffix("ON CONFLICT (build_id) DO UPDATE SET log = EXCLUDED.log"))
		return err
	}

	var reconcileErr error
	if reconcile != nil {
		err := c.Transaction(ctx, func(tx *Tx) error {
			reconcileErr = nil
			pkg, err := reconcile(tx)
			if err != nil {
				reconcileErr = err
				return err
			}

			return finish(tx, StatusComplete, &pkg.ID, output)
		})
		if err == nil {
			metrics.Builds.WithLabelValues(string(StatusComplete)).Inc()
			log.WithFields(log.Fields{
				"BuildID":   build.ID,
				"PackageID": *build.PackageID,
			}).Info("Build complete.")
			return nil
		}
		if reconcileErr == nil {
			log.WithFields(log.Fields{
				"BuildID": build.ID,
				"Error":   err.Error(),
			}).Error("Unable to complete build.")
			output += "\n" + err.Error()
			markErr := c.Transaction(ctx, func(tx *Tx) error {
				return finish(tx, StatusError, nil, output)
			})
			if markErr != nil {
				log.WithFields(log.Fields{
					"BuildID": build.ID,
					"Error":   markErr.Error(),
				}).Error("Unable to mark build as failed.")
			} else {
				metrics.Builds.WithLabelValues(string(StatusError)).Inc()
			}
			return err
		}

		log.WithFields(log.Fields{
			"BuildID": build.ID,
			"Error":   reconcileErr.Error(),
		}).Error("Unable to update the catalog from the build.")
		output += "\n" + reconcileErr.Error()
	}

	err := c.Transaction(ctx, func(tx *Tx) error {
		return finish(tx, StatusError, nil, output)
	})
	if err != nil {
		return err
	}
	metrics.Builds.WithLabelValues(string(StatusError)).Inc()

	return nil
}

func setBuildStatus(tx *Tx, build *Build, status Status) error {
	timestamp := now()
	_, err := tx.Execx(sb.Update("builds").
		SetMap(sq.Eq{
			"status":     status,
			"updated_at": timestamp,
		}).
		Where(sq.Eq{"id": build.ID}))
	if err != nil {
		return err
	}
	build.Status = status
	build.UpdatedAt = timestamp

	return nil
}

// reconcileCatalog upserts the package and functions of manifest. Functions missing from the manifest
// are deactivated, parameters missing from a function are deleted.
func reconcileCatalog(tx *Tx, environmentID string, manifest *PackageManifest, image string) (*Package, error) {
	pkg := &Package{}
	err := tx.Getx(pkg, packagesSelectBuilder(environmentID).
		Where(sq.Eq{"p.name": manifest.Name}).
		Suffix("FOR UPDATE"))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	timestamp := now()
	if errors.Is(err, sql.ErrNoRows) {
		pkg = &Package{
			ID:            newID(),
			EnvironmentID: environmentID,
			Name:          manifest.Name,
			Status:        PackageComplete,
			CreatedAt:     timestamp,
		}
	} else if pkg.Status == PackagePending {
		pkg.Status = PackageComplete
	}
	pkg.DisplayName = manifest.DisplayName
	pkg.Summary = manifest.Summary
	pkg.Description = manifest.Description
	pkg.Language = manifest.Language
	pkg.ImageName = image
	pkg.UpdatedAt = timestamp

	_, err = tx.Execx(sb.Insert("packages").
		SetMap(sq.Eq{
			"id":             pkg.ID,
			"environment_id": pkg.EnvironmentID,
			"name":           pkg.Name,
			"display_name":   pkg.DisplayName,
			"summary":        pkg.Summary,
			"description":    pkg.Description,
			"language":       pkg.Language,
			"image_name":     pkg.ImageName,
			"status":         pkg.Status,
			"created_at":     pkg.CreatedAt,
			"updated_at":     pkg.UpdatedAt,
		}).
		Suffix("ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, summary = EXCLUDED.summary, " +
			"description = EXCLUDED.description, language = EXCLUDED.language, image_name = EXCLUDED.image_name, " +
			"status = EXCLUDED.status, updated_at = EXCLUDED.updated_at"))
	if err != nil {
		return nil, err
	}

	var existing []*Function
	err = tx.Selectx(&existing, sb.Select(getFunctionColumns("f")...).
		From("functions f").
		Where(sq.Eq{"f.package_id": pkg.ID}))
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*Function, len(existing))
	for _, f := range existing {
		byName[f.Name] = f
	}

	declared := make(map[string]bool, len(manifest.Functions))
	for i := range manifest.Functions {
		definition := &manifest.Functions[i]
		declared[definition.Name] = true

		function, err := upsertFunction(tx, pkg, byName[definition.Name], definition, timestamp)
		if err != nil {
			return nil, err
		}
		if err := replaceFunctionParameters(tx, function.ID, definition.parameters()); err != nil {
			return nil, err
		}
		pkg.Functions = append(pkg.Functions, function)
	}

	for _, function := range existing {
		if declared[function.Name] || !function.Active {
			continue
		}
		if err := setFunctionActive(tx, function, false); err != nil {
			return nil, err
		}
	}

	return pkg, nil
}

func upsertFunction(tx *Tx, pkg *Package, function *Function, definition *FunctionManifest, timestamp time.Time) (*Function, error) {
	variables := pq.StringArray(definition.Variables)
	if variables == nil {
		variables = pq.StringArray{}
	}
	values := sq.Eq{
		"display_name": definition.DisplayName,
		"summary":      definition.Summary,
		"description":  definition.Description,
		"return_type":  definition.ReturnType,
		"variables":    variables,
		"updated_at":   timestamp,
	}

	if function == nil {
		function = &Function{
			ID:            newID(),
			PackageID:     pkg.ID,
			EnvironmentID: pkg.EnvironmentID,
			Name:          definition.Name,
			Active:        true,
			CreatedAt:     timestamp,
		}
		values["id"] = function.ID
		values["package_id"] = function.PackageID
		values["environment_id"] = function.EnvironmentID
		values["name"] = function.Name
		values["active"] = true
		values["created_at"] = timestamp
		if _, err := tx.Execx(sb.Insert("functions").SetMap(values)); err != nil {
			return nil, err
		}
	} else {
		if _, err := tx.Execx(sb.Update("functions").SetMap(values).Where(sq.Eq{"id": function.ID})); err != nil {
			return nil, err
		}
		if !function.Active {
			if err := setFunctionActive(tx, function, true); err != nil {
				return nil, err
			}
		}
	}

	function.DisplayName = definition.DisplayName
	function.Summary = definition.Summary
	function.Description = definition.Description
	function.ReturnType = definition.ReturnType
	function.Variables = variables
	function.UpdatedAt = timestamp
	function.Package = pkg

	return function, nil
}

// replaceFunctionParameters makes parameters the declared set of the function.
func replaceFunctionParameters(tx *Tx, functionID string, parameters []*Parameter) error {
	names := make([]string, 0, len(parameters))
	for _, p := range parameters {
		names = append(names, p.Name)
	}

	_, err := tx.Execx(sb.Delete("function_parameters").
		Where(sq.Eq{"function_id": functionID}).
		Where(sq.NotEq{"name": names}))
	if err != nil {
		return err
	}

	for _, p := range parameters {
		p.ID = newID()
		_, err := tx.Execx(sb.Insert("function_parameters").
			SetMap(sq.Eq{
				"id":             p.ID,
				"function_id":    functionID,
				"name":           p.Name,
				"display_name":   p.DisplayName,
				"description":    p.Description,
				"parameter_type": p.Type,
				"required":       p.Required,
				"default_value":  p.Default,
				"options":        p.Options,
			}).
			Suffix("ON CONFLICT ON CONSTRAINT function_parameter_function_name_unique DO UPDATE SET " +
				"display_name = EXCLUDED.display_name, description = EXCLUDED.description, " +
				"parameter_type = EXCLUDED.parameter_type, required = EXCLUDED.required, " +
				"default_value = EXCLUDED.default_value, options = EXCLUDED.options"))
		if err != nil {
			return err
		}
	}

	return nil
}

func (c *Client) GetBuild(scope Scope, id string) (*Build, error) {
	if err := c.authorize(scope, ActionRead, ResourceBuild); err != nil {
		return nil, err
	}

	return getBuild(c.DB, scope.EnvironmentID, id)
}

// ListBuilds returns the builds of the environment, newest first.
func (c *Client) ListBuilds(scope Scope, paginator *pagination.PaginationRequest) (builds []*Build, err error) {
	if err = c.authorize(scope, ActionRead, ResourceBuild); err != nil {
		return nil, err
	}

	query := buildsSelectBuilder().
		Where(sq.Eq{"b.environment_id": scope.EnvironmentID}).
		OrderBy("b.created_at DESC")
	query = paginator.ApplyToSelect(query)

	err = c.Selectx(&builds, query)

	return
}

// GetBuildLog returns the image build and push output of a finished build.
func (c *Client) GetBuildLog(scope Scope, id string) (*BuildLog, error) {
	if err := c.authorize(scope, ActionRead, ResourceBuild); err != nil {
		return nil, err
	}

	buildLog := &BuildLog{}
	err := c.Getx(buildLog, sb.Select("bl.build_id", "bl.log").
		From("build_logs bl").
		Join("builds b ON b.id = bl.build_id").
		Where(sq.Eq{
			"bl.build_id":      id,
			"b.environment_id": scope.EnvironmentID,
		}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NewUserError(codes.NotFound, "Build log not found.")
	}
	if err != nil {
		return nil, err
	}

	return buildLog, nil
}
